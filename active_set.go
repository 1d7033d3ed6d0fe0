package mlfgame

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/combin"
)

// ActiveSet is a sorted set of follower constraint indices that are
// hypothesized to bind (hold with equality) at an equilibrium.
type ActiveSet []int

// Key returns a string uniquely identifying the set, suitable as a map key.
func (s ActiveSet) Key() string {
	var b strings.Builder
	for i, idx := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

func (s ActiveSet) String() string {
	return "{" + s.Key() + "}"
}

// CountActiveSets returns the number of subsets of m constraints.
func CountActiveSets(m int) int {
	return 1 << uint(m)
}

// EnumerateActiveSets calls cb once with each subset of {0, ..., m-1}.
// Subsets are visited by increasing size, starting with the empty set,
// and in lexicographic order within a size. Each subset passed to cb is
// freshly allocated and may be retained.
func EnumerateActiveSets(m int, cb func(set ActiveSet)) {
	for k := 0; k <= m; k++ {
		gen := combin.NewCombinationGenerator(m, k)
		for gen.Next() {
			cb(gen.Combination(nil))
		}
	}
}

// ActiveSetIndex returns the position of set in the order visited by
// EnumerateActiveSets(m, ...).
func ActiveSetIndex(m int, set ActiveSet) (int, error) {
	k := len(set)
	if k > m {
		return 0, errors.Errorf("active set %v has more than %d constraints", set, m)
	}
	for i, idx := range set {
		if idx < 0 || idx >= m || (i > 0 && set[i-1] >= idx) {
			return 0, errors.Errorf("active set %v is not a sorted subset of [0, %d)", set, m)
		}
	}

	offset := 0
	for size := 0; size < k; size++ {
		offset += combin.Binomial(m, size)
	}

	return offset + combin.CombinationIndex(set, m, k), nil
}
