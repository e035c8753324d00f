// Package report summarizes harvest results for the end-of-run report.
package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Bucket counts results sharing a country or source.
type Bucket struct {
	Key       string `json:"key"`
	Total     int    `json:"total"`
	WithEmail int    `json:"with_email"`
}

// Summary aggregates a set of results.
type Summary struct {
	Entities    int      `json:"entities"`
	Completed   int      `json:"completed"`
	WithEmail   int      `json:"with_email"`
	EmailsFound int      `json:"emails_found"`
	Partial     int      `json:"partial"`
	ByCountry   []Bucket `json:"by_country"`
	BySource    []Bucket `json:"by_source"`
}

// Pending is the number of entities without a result.
func (s Summary) Pending() int {
	return s.Entities - s.Completed
}

// Summarize builds a summary over results. total is the size of the full entity
// list so that pending entities show up in the report.
func Summarize(total int, results []harvest.Result) Summary {
	s := Summary{Entities: max(total, len(results)), Completed: len(results)}
	countries := map[string]*Bucket{}
	sources := map[string]*Bucket{}
	for _, r := range results {
		hasEmail := r.BestEmail != ""
		if hasEmail {
			s.WithEmail++
		}
		if r.Partial() {
			s.Partial++
		}
		s.EmailsFound += r.EmailsFound
		count(countries, keyOr(r.Country, "Unknown"), hasEmail)
		count(sources, keyOr(r.Source, "unspecified"), hasEmail)
	}
	s.ByCountry = sorted(countries)
	s.BySource = sorted(sources)
	return s
}

func count(buckets map[string]*Bucket, key string, hasEmail bool) {
	b, ok := buckets[key]
	if !ok {
		b = &Bucket{Key: key}
		buckets[key] = b
	}
	b.Total++
	if hasEmail {
		b.WithEmail++
	}
}

func sorted(buckets map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Bucket) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func keyOr(key, fallback string) string {
	if key == "" {
		return fallback
	}
	return key
}

// Write renders the summary as aligned text.
func Write(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Entities\t%d\n", s.Entities)
	fmt.Fprintf(tw, "Completed\t%d\n", s.Completed)
	fmt.Fprintf(tw, "Pending\t%d\n", s.Pending())
	fmt.Fprintf(tw, "With email\t%d\t%s\n", s.WithEmail, percent(s.WithEmail, s.Completed))
	fmt.Fprintf(tw, "Emails found\t%d\n", s.EmailsFound)
	fmt.Fprintf(tw, "Partial\t%d\n", s.Partial)
	writeBuckets(tw, "Country", s.ByCountry)
	writeBuckets(tw, "Source", s.BySource)
	return tw.Flush()
}

func writeBuckets(w io.Writer, title string, buckets []Bucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\tEntities\tWith email\n", title)
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%d\t%d\n", b.Key, b.Total, b.WithEmail)
	}
}

func percent(part, whole int) string {
	if whole == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(whole))
}

// Log emits the summary as a single structured log entry.
func Log(logger *zap.Logger, s Summary) {
	logger.Info("harvest summary",
		zap.Int("entities", s.Entities),
		zap.Int("completed", s.Completed),
		zap.Int("pending", s.Pending()),
		zap.Int("with_email", s.WithEmail),
		zap.Int("emails_found", s.EmailsFound),
		zap.Int("partial", s.Partial),
		zap.Any("by_country", s.ByCountry),
		zap.Any("by_source", s.BySource),
	)
}
