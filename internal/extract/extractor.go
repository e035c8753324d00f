// Package extract pulls validated contact addresses out of fetched pages.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

var (
	obfuscatedAt  = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*at\s*[\]\)\}>]\s*`)
	obfuscatedDot = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*dot\s*[\]\)\}>]\s*`)

	// Whitespace is tolerated around "@", and around "." only when it pads both sides.
	looseAddress = regexp.MustCompile(
		`[A-Za-z0-9._%+\-]+\s*@\s*[A-Za-z0-9\-]+(?:(?:\.|\s+\.\s+)[A-Za-z0-9\-]+)*(?:\.|\s+\.\s+)[A-Za-z]{2,}`,
	)
	spacedDot     = regexp.MustCompile(`\s+\.\s+`)
	strictAddress = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}$`)
	whitespace    = regexp.MustCompile(`\s+`)
)

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "section": true, "table": true, "td": true, "th": true, "tr": true,
	"ul": true, "title": true,
}

// Config controls which syntactically valid addresses are still discarded.
type Config struct {
	// ExcludeSubstrings drops any address containing one of these.
	ExcludeSubstrings []string
	// PlaceholderDomains drops addresses at these domains or their subdomains.
	PlaceholderDomains []string
	// ExcludeSuffixes drops asset-looking matches such as logo@2x.png.
	ExcludeSuffixes []string
}

// DefaultConfig returns the stock exclusion lists.
func DefaultConfig() Config {
	return Config{
		ExcludeSubstrings:  []string{"noreply", "no-reply", "donotreply", "do-not-reply", "webmaster", "postmaster"},
		PlaceholderDomains: []string{"example.com", "test.com", "sample.com", "demo.com"},
		ExcludeSuffixes:    []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"},
	}
}

// Extractor finds candidate addresses in page bodies. It is safe for concurrent use.
type Extractor struct {
	cfg Config
}

// New builds an Extractor. Lists are lower-cased once up front.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: Config{
		ExcludeSubstrings:  lowerAll(cfg.ExcludeSubstrings),
		PlaceholderDomains: lowerAll(cfg.PlaceholderDomains),
		ExcludeSuffixes:    lowerAll(cfg.ExcludeSuffixes),
	}}
}

// Extract returns the addresses found in body, lower-cased and de-duplicated,
// in order of first appearance. Text and mailto links are interleaved in document order.
// Input that cannot be parsed yields no candidates.
func (e *Extractor) Extract(sourceURL string, body []byte) []harvest.CandidateEmail {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	w := &walker{extractor: e, sourceURL: sourceURL, seen: make(map[string]struct{})}
	for _, n := range doc.Nodes {
		w.walk(n)
	}
	w.flush()
	return w.out
}

// Normalize cleans a raw match and reports whether it survives validation and exclusion.
func (e *Extractor) Normalize(raw string) (string, bool) {
	addr := strings.ToLower(whitespace.ReplaceAllString(raw, ""))
	addr = strings.Trim(addr, ".")
	if strings.Count(addr, "@") != 1 || !strictAddress.MatchString(addr) {
		return "", false
	}
	if e.excluded(addr) {
		return "", false
	}
	return addr, true
}

func (e *Extractor) excluded(addr string) bool {
	for _, s := range e.cfg.ExcludeSubstrings {
		if s != "" && strings.Contains(addr, s) {
			return true
		}
	}
	for _, s := range e.cfg.ExcludeSuffixes {
		if s != "" && strings.HasSuffix(addr, s) {
			return true
		}
	}
	domain := addr[strings.IndexByte(addr, '@')+1:]
	for _, d := range e.cfg.PlaceholderDomains {
		if d != "" && (domain == d || strings.HasSuffix(domain, "."+d)) {
			return true
		}
	}
	return false
}

// Deobfuscate rewrites bracketed "at" and "dot" tokens into their symbols.
func Deobfuscate(text string) string {
	text = obfuscatedAt.ReplaceAllString(text, "@")
	return obfuscatedDot.ReplaceAllString(text, ".")
}

// Merge concatenates per-page candidate lists, keeping the first occurrence of each address.
func Merge(lists ...[]harvest.CandidateEmail) []harvest.CandidateEmail {
	seen := make(map[string]struct{})
	var out []harvest.CandidateEmail
	for _, list := range lists {
		for _, c := range list {
			if _, ok := seen[c.Address]; ok {
				continue
			}
			seen[c.Address] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

type walker struct {
	extractor *Extractor
	sourceURL string
	buf       strings.Builder
	seen      map[string]struct{}
	out       []harvest.CandidateEmail
}

func (w *walker) walk(n *html.Node) {
	if n.Type == html.CommentNode {
		return
	}
	if n.Type == html.TextNode {
		w.buf.WriteString(n.Data)
		return
	}
	isElement := n.Type == html.ElementNode
	if isElement {
		if skippedElements[n.Data] {
			return
		}
		if n.Data == "a" {
			if href, ok := attr(n, "href"); ok && hasMailtoPrefix(href) {
				w.flush()
				w.addMailto(href)
			}
		}
		if blockElements[n.Data] {
			w.buf.WriteByte('\n')
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		w.walk(child)
	}
	if isElement && blockElements[n.Data] {
		w.buf.WriteByte('\n')
	}
}

func (w *walker) flush() {
	if w.buf.Len() == 0 {
		return
	}
	text := Deobfuscate(w.buf.String())
	w.buf.Reset()
	for _, match := range looseAddress.FindAllString(text, -1) {
		w.add(trimSpacedTail(match), false)
	}
}

func (w *walker) addMailto(href string) {
	target := strings.TrimSpace(href)[len("mailto:"):]
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		target = target[:idx]
	}
	if decoded, err := url.PathUnescape(target); err == nil {
		target = decoded
	}
	for _, part := range strings.Split(target, ",") {
		w.add(Deobfuscate(part), true)
	}
}

func (w *walker) add(raw string, fromMailto bool) {
	addr, ok := w.extractor.Normalize(raw)
	if !ok {
		return
	}
	if _, dup := w.seen[addr]; dup {
		return
	}
	w.seen[addr] = struct{}{}
	w.out = append(w.out, harvest.CandidateEmail{
		Address:    addr,
		SourceURL:  w.sourceURL,
		FromMailto: fromMailto,
	})
}

// trimSpacedTail drops spaced dots that end a sentence rather than pad a domain.
// An address already complete before its first spaced dot keeps only that part,
// so "info@uni.edu . Next" yields info@uni.edu. Otherwise trailing labels are cut
// while they read as a capitalised word or leave a domain without an ICANN suffix.
func trimSpacedTail(match string) string {
	locs := spacedDot.FindAllStringIndex(match, -1)
	if len(locs) == 0 {
		return match
	}
	if head := match[:locs[0][0]]; completeDomain(head) {
		return head
	}
	for len(locs) > 0 {
		last := locs[len(locs)-1]
		if !sentenceWord(match[last[1]:]) && icannDomain(match) {
			return match
		}
		match = match[:last[0]]
		locs = locs[:len(locs)-1]
	}
	return match
}

func domainOf(match string) string {
	addr := strings.ToLower(whitespace.ReplaceAllString(match, ""))
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.Trim(addr[at+1:], ".")
}

func icannDomain(match string) bool {
	domain := domainOf(match)
	if domain == "" {
		return false
	}
	_, icann := publicsuffix.PublicSuffix(domain)
	return icann
}

func completeDomain(match string) bool {
	return strings.Contains(domainOf(match), ".") && icannDomain(match)
}

// sentenceWord reports labels like "Next": one capital followed by lowercase.
func sentenceWord(label string) bool {
	if len(label) < 2 || label[0] < 'A' || label[0] > 'Z' {
		return false
	}
	return label[1] >= 'a' && label[1] <= 'z'
}

func hasMailtoPrefix(href string) bool {
	href = strings.TrimSpace(href)
	return len(href) > len("mailto:") && strings.EqualFold(href[:len("mailto:")], "mailto:")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
