package discover

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const homepage = `<html><body>
<nav>
  <a href="/about">About us</a>
  <a href="https://other.edu/contact">Partner contact</a>
  <a href="/research">Research</a>
  <a href="contact-us.html#form">Get in touch</a>
  <a href="/Admissions/">Study here</a>
  <a href="mailto:info@uni.edu">info</a>
  <a href="javascript:void(0)">contact</a>
  <a href="#contact">Jump to contact</a>
  <a href="/about">About (footer)</a>
  <a href="/files/contact-directory.pdf">Contact directory</a>
  <a href="https://www.uni.edu/international">Global</a>
</nav>
</body></html>`

func TestDiscoverDocumentOrderAndFilters(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig())
	got := d.Discover("https://uni.edu/home/", []byte(homepage))

	assert.Equal(t, []string{
		"https://uni.edu/about",
		"https://uni.edu/home/contact-us.html",
		"https://uni.edu/Admissions/",
		"https://www.uni.edu/international",
	}, got)
}

func TestDiscoverCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, `<a href="/contact/%d">Contact %d</a>`, i, i)
	}
	cfg := DefaultConfig()
	cfg.MaxLinks = 3
	got := New(cfg).Discover("https://uni.edu/", []byte(b.String()))
	assert.Equal(t, []string{
		"https://uni.edu/contact/0",
		"https://uni.edu/contact/1",
		"https://uni.edu/contact/2",
	}, got)

	assert.Len(t, New(DefaultConfig()).Discover("https://uni.edu/", []byte(b.String())), 10)
}

func TestDiscoverScopes(t *testing.T) {
	t.Parallel()

	body := []byte(`<a href="https://intl.uni.ac.uk/contact">Contact</a>
<a href="https://other.ac.uk/contact">Contact</a>
<a href="https://uni.ac.uk/contact">Contact</a>`)

	sameHost := New(DefaultConfig()).Discover("https://www.uni.ac.uk/", body)
	assert.Equal(t, []string{"https://uni.ac.uk/contact"}, sameHost)

	cfg := DefaultConfig()
	cfg.Scope = ScopeSameSite
	sameSite := New(cfg).Discover("https://www.uni.ac.uk/", body)
	assert.Equal(t, []string{"https://intl.uni.ac.uk/contact", "https://uni.ac.uk/contact"}, sameSite)

	cfg.Scope = ScopeAny
	assert.Len(t, New(cfg).Discover("https://www.uni.ac.uk/", body), 3)
}

func TestDiscoverLocaleKeywordsAndBaseTag(t *testing.T) {
	t.Parallel()

	body := []byte(`<head><base href="https://uni.es/es/"></head>
<body><a href="contacto">Contacto</a><a href="relaciones-internacionales">RRII</a></body>`)
	got := New(DefaultConfig()).Discover("https://uni.es/", body)
	assert.Equal(t, []string{"https://uni.es/es/contacto", "https://uni.es/es/relaciones-internacionales"}, got)

	cfg := DefaultConfig()
	cfg.LocaleKeywords = nil
	assert.Equal(t, []string{"https://uni.es/es/contacto"}, New(cfg).Discover("https://uni.es/", body))

	cdn := []byte(`<head><base href="https://cdn.assets.net/"></head>
<body><a href="https://uni.edu/contact">Contact</a><a href="contact-us">Contact us</a>
<a href="https://cdn.assets.net/contact">Contact mirror</a></body>`)
	assert.Equal(t, []string{"https://uni.edu/contact"}, New(DefaultConfig()).Discover("https://uni.edu/", cdn))
}

func TestDiscoverFallbackPaths(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.FallbackPaths = []string{"/contact", "/contact-us", "/admissions"}
	body := []byte(`<a href="/contact">Contact</a>`)

	got := New(cfg).Discover("https://uni.ac.uk/", body)
	assert.Equal(t, []string{
		"https://uni.ac.uk/contact",
		"https://uni.ac.uk/contact-us",
		"https://uni.ac.uk/admissions",
	}, got)
}

func TestDiscoverDegrades(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig())
	assert.Empty(t, d.Discover("not a url", []byte(homepage)))
	assert.Empty(t, d.Discover("https://uni.edu/", nil))
	assert.Empty(t, d.Discover("https://uni.edu/", []byte("<<<>>> contact")))
}

func TestParseScope(t *testing.T) {
	t.Parallel()

	s, err := ParseScope("Same-Site")
	require.NoError(t, err)
	assert.Equal(t, ScopeSameSite, s)

	s, err = ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeSameHost, s)

	_, err = ParseScope("planet")
	assert.Error(t, err)
}
