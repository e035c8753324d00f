package harvest

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeName derives the stable identifier for an entity name.
// Names that differ only in case, width, or spacing map to the same identifier.
func NormalizeName(name string) string {
	n := norm.NFKC.String(name)
	n = folder.String(n)
	return strings.Join(strings.Fields(n), " ")
}

// EntityID returns the explicit key when present, otherwise the normalized name.
func EntityID(explicit, name string) string {
	if key := strings.TrimSpace(explicit); key != "" {
		return key
	}
	return NormalizeName(name)
}
