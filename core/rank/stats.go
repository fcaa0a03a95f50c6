// Package rank implements the rank statistics engine: for each reference
// entity it locates the true match in the descending similarity ordering
// of its row and accumulates mean-rank, reciprocal-rank and hits@k sums.
//
// Candidates are ordered by descending similarity with ties broken by
// ascending candidate index, so results are reproducible under ties.
package rank

import (
	"maps"
	"slices"

	everr "github.com/adalundhe/aligneval/core/errors"
)

// ValidateTopK rejects threshold sets that cannot produce hits@k values.
func ValidateTopK(topK []int) error {
	if len(topK) == 0 {
		return everr.Newf(everr.KindDegenerateConfig, "top-k threshold list is empty")
	}
	for _, k := range topK {
		if k <= 0 {
			return everr.Newf(everr.KindDegenerateConfig, "top-k thresholds must be positive, got %v", topK)
		}
	}
	return nil
}

// Stats accumulates rank records for a set of reference entities.
//
// Rank and hit sums are integers. The reciprocal-rank sum is derived from a
// histogram of positions and summed in ascending position order, so merging
// per-partition Stats in any grouping yields the same float64 as a single
// pass over all rows.
type Stats struct {
	TopK    []int
	Count   int
	RankSum int
	Hits    []int

	positions map[int]int
}

func NewStats(topK []int) *Stats {
	return &Stats{
		TopK:      slices.Clone(topK),
		Hits:      make([]int, len(topK)),
		positions: make(map[int]int),
	}
}

// Add records a 0-based position of a true match.
func (s *Stats) Add(position int) {
	s.Count++
	s.RankSum += position + 1
	for j, k := range s.TopK {
		if position < k {
			s.Hits[j]++
		}
	}
	s.positions[position]++
}

// ReciprocalRankSum returns the sum of 1/(position+1) over all records.
func (s *Stats) ReciprocalRankSum() float64 {
	var sum float64
	for _, pos := range slices.Sorted(maps.Keys(s.positions)) {
		sum += float64(s.positions[pos]) / float64(pos+1)
	}
	return sum
}

// Positions returns a copy of the position histogram.
func (s *Stats) Positions() map[int]int {
	return maps.Clone(s.positions)
}

// Merge folds other into s. Both must use the same thresholds.
func (s *Stats) Merge(other *Stats) error {
	if !slices.Equal(s.TopK, other.TopK) {
		return everr.Newf(everr.KindPrecondition,
			"cannot merge stats with thresholds %v into %v", other.TopK, s.TopK)
	}
	s.Count += other.Count
	s.RankSum += other.RankSum
	for j := range s.Hits {
		s.Hits[j] += other.Hits[j]
	}
	for pos, n := range other.positions {
		s.positions[pos] += n
	}
	return nil
}
