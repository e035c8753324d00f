// Package discover finds likely contact pages among a homepage's links.
package discover

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/contact-harvester/internal/ledger"
)

// Scope limits which hosts a discovered link may point at.
type Scope string

// Supported scopes.
const (
	// ScopeSameHost keeps links on the homepage's host; a leading "www." is ignored.
	ScopeSameHost Scope = "same-host"
	// ScopeSameSite also keeps subdomains of the homepage's registrable domain.
	ScopeSameSite Scope = "same-site"
	// ScopeAny keeps every http(s) link.
	ScopeAny Scope = "any"
)

// ParseScope validates a configured scope name.
func ParseScope(name string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(name))); s {
	case ScopeSameHost, ScopeSameSite, ScopeAny:
		return s, nil
	case "":
		return ScopeSameHost, nil
	default:
		return "", fmt.Errorf("unknown discovery scope %q", name)
	}
}

// DefaultKeywords match contact-like links by href or anchor text.
var DefaultKeywords = []string{"contact", "about", "info", "international", "global", "admissions"}

// DefaultLocaleKeywords cover common Spanish and German site vocabulary.
var DefaultLocaleKeywords = []string{
	"contacto", "contactar", "internacional", "relaciones", "cooperacion", "oficina", "kontakt",
}

// DefaultExcludePatterns skip links to documents and media.
var DefaultExcludePatterns = []string{
	"*.pdf", "*.doc", "*.docx", "*.xls", "*.xlsx", "*.ppt", "*.pptx",
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.zip", "*.mp4",
}

// Config controls discovery.
type Config struct {
	Keywords        []string
	LocaleKeywords  []string
	MaxLinks        int
	Scope           Scope
	ExcludePatterns []string
	// FallbackPaths are tried, in order, when fewer than MaxLinks links were discovered.
	FallbackPaths []string
}

// DefaultConfig returns stock settings.
func DefaultConfig() Config {
	return Config{
		Keywords:        DefaultKeywords,
		LocaleKeywords:  DefaultLocaleKeywords,
		MaxLinks:        10,
		Scope:           ScopeSameHost,
		ExcludePatterns: DefaultExcludePatterns,
	}
}

// Discoverer selects contact-page candidates. It is safe for concurrent use.
type Discoverer struct {
	keywords []string
	cfg      Config
}

// New builds a Discoverer.
func New(cfg Config) *Discoverer {
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 10
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeSameHost
	}
	var kws []string
	for _, k := range append(append([]string{}, cfg.Keywords...), cfg.LocaleKeywords...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kws = append(kws, k)
		}
	}
	return &Discoverer{keywords: kws, cfg: cfg}
}

// Discover returns absolute candidate URLs in document order, de-duplicated and capped.
// Unparseable bases or markup produce no candidates.
func (d *Discoverer) Discover(baseURL string, body []byte) []string {
	page, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || page.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	// <base href> only changes how links resolve; scope stays tied to the page itself.
	base := page
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if declared, err := page.Parse(strings.TrimSpace(href)); err == nil && declared.Host != "" {
			base = declared
		}
	}

	c := newCollector(d, page, baseURL)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if d.matches(href, s.Text()) {
			c.add(base, href)
		}
		return !c.full()
	})
	for _, p := range d.cfg.FallbackPaths {
		if c.full() {
			break
		}
		c.add(page, p)
	}
	return c.links
}

func (d *Discoverer) matches(href, text string) bool {
	href = strings.ToLower(href)
	text = strings.ToLower(text)
	for _, k := range d.keywords {
		if strings.Contains(href, k) || strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func (d *Discoverer) inScope(base, target *url.URL) bool {
	switch d.cfg.Scope {
	case ScopeAny:
		return true
	case ScopeSameSite:
		a, errA := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(base.Hostname()))
		b, errB := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(target.Hostname()))
		if errA == nil && errB == nil {
			return a == b
		}
		return sameHost(base, target)
	default:
		return sameHost(base, target)
	}
}

func (d *Discoverer) excluded(target *url.URL) bool {
	name := strings.ToLower(path.Base(target.Path))
	for _, pattern := range d.cfg.ExcludePatterns {
		if ok, err := path.Match(strings.ToLower(pattern), name); err == nil && ok {
			return true
		}
	}
	return false
}

func sameHost(a, b *url.URL) bool {
	return stripWWW(a.Hostname()) == stripWWW(b.Hostname())
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

type collector struct {
	d     *Discoverer
	page  *url.URL
	seen  map[string]struct{}
	links []string
}

func newCollector(d *Discoverer, page *url.URL, pageURL string) *collector {
	c := &collector{d: d, page: page, seen: make(map[string]struct{})}
	if self, err := ledger.NormalizeURL(pageURL); err == nil {
		c.seen[self] = struct{}{}
	}
	return c
}

func (c *collector) full() bool {
	return len(c.links) >= c.d.cfg.MaxLinks
}

func (c *collector) add(base *url.URL, href string) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "tel:") {
		return
	}
	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	target := base.ResolveReference(ref)
	if target.Scheme != "http" && target.Scheme != "https" {
		return
	}
	target.Fragment = ""
	target.RawFragment = ""
	if !c.d.inScope(c.page, target) || c.d.excluded(target) {
		return
	}
	key, err := ledger.NormalizeURL(target.String())
	if err != nil {
		return
	}
	if _, dup := c.seen[key]; dup {
		return
	}
	c.seen[key] = struct{}{}
	c.links = append(c.links, target.String())
}
