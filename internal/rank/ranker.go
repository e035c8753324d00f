// Package rank orders candidate addresses so generic institutional mailboxes come first.
package rank

import (
	"strings"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// DefaultKeywords is the stock priority list, matched as substrings.
var DefaultKeywords = []string{
	"international",
	"global",
	"cooperation",
	"partnership",
	"info",
	"contact",
	"general",
	"office",
	"administration",
	"admissions",
}

// Ranker performs a stable partition: addresses matching any keyword first, the rest after.
type Ranker struct {
	keywords []string
}

// New builds a Ranker. An empty keyword list falls back to DefaultKeywords.
func New(keywords []string) *Ranker {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Ranker{keywords: kw}
}

// IsPrioritized reports whether the address's local part or domain contains a keyword.
func (r *Ranker) IsPrioritized(address string) bool {
	addr := strings.ToLower(address)
	for _, k := range r.keywords {
		if strings.Contains(addr, k) {
			return true
		}
	}
	return false
}

// Rank returns a new slice holding the same candidates, prioritized ones first.
// Relative order within each group is preserved.
func (r *Ranker) Rank(candidates []harvest.CandidateEmail) []harvest.CandidateEmail {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]harvest.CandidateEmail, 0, len(candidates))
	var rest []harvest.CandidateEmail
	for _, c := range candidates {
		if r.IsPrioritized(c.Address) {
			out = append(out, c)
			continue
		}
		rest = append(rest, c)
	}
	return append(out, rest...)
}
