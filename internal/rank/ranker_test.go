package rank

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

func cands(addrs ...string) []harvest.CandidateEmail {
	out := make([]harvest.CandidateEmail, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, harvest.CandidateEmail{Address: a})
	}
	return out
}

func addrs(in []harvest.CandidateEmail) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, c.Address)
	}
	return out
}

func TestRankStablePartition(t *testing.T) {
	t.Parallel()

	r := New(nil)
	in := cands("dean@uni.edu", "admissions@uni.edu", "j.smith@uni.edu", "info@uni.edu", "office@global.uni.edu")
	got := r.Rank(in)

	assert.Equal(t,
		[]string{"admissions@uni.edu", "info@uni.edu", "office@global.uni.edu", "dean@uni.edu", "j.smith@uni.edu"},
		addrs(got))
	assert.Equal(t, "dean@uni.edu", in[0].Address, "input must not be reordered")
}

func TestRankIsPermutation(t *testing.T) {
	t.Parallel()

	r := New(nil)
	for n := 0; n < 12; n++ {
		var in []harvest.CandidateEmail
		for i := 0; i < n; i++ {
			if i%3 == 0 {
				in = append(in, harvest.CandidateEmail{Address: fmt.Sprintf("contact%d@u.edu", i)})
			} else {
				in = append(in, harvest.CandidateEmail{Address: fmt.Sprintf("person%d@u.edu", i)})
			}
		}
		got := addrs(r.Rank(in))
		want := addrs(in)
		sort.Strings(got)
		sort.Strings(want)
		assert.Equal(t, want, got)

		ranked := r.Rank(in)
		seenPlain := false
		for _, c := range ranked {
			if !r.IsPrioritized(c.Address) {
				seenPlain = true
				continue
			}
			assert.False(t, seenPlain, "prioritized address after a plain one")
		}
	}
}

func TestRankEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, New(nil).Rank(nil))
}

func TestCustomKeywords(t *testing.T) {
	t.Parallel()

	r := New([]string{" RELACIONES ", ""})
	got := r.Rank(cands("info@uni.es", "relaciones.internacionales@uni.es"))
	assert.Equal(t, []string{"relaciones.internacionales@uni.es", "info@uni.es"}, addrs(got))
	assert.False(t, r.IsPrioritized("info@uni.es"))
}
