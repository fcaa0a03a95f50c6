package rank

import (
	"cmp"
	"maps"
	"slices"
)

// Pair is a reference entity and its best-scoring candidate.
type Pair struct {
	Ref       int
	Predicted int
}

// PairSet is a set of predicted alignment pairs.
type PairSet map[Pair]struct{}

func (ps PairSet) Add(ref, predicted int) {
	ps[Pair{Ref: ref, Predicted: predicted}] = struct{}{}
}

// Union adds every pair of other to ps.
func (ps PairSet) Union(other PairSet) {
	maps.Copy(ps, other)
}

// Sorted returns the pairs ordered by reference index, then prediction.
func (ps PairSet) Sorted() []Pair {
	out := slices.Collect(maps.Keys(ps))
	slices.SortFunc(out, func(a, b Pair) int {
		if c := cmp.Compare(a.Ref, b.Ref); c != 0 {
			return c
		}
		return cmp.Compare(a.Predicted, b.Predicted)
	})
	return out
}

// Accuracy returns the fraction of pairs whose prediction equals the reference.
func (ps PairSet) Accuracy() float64 {
	if len(ps) == 0 {
		return 0
	}
	correct := 0
	for p := range ps {
		if p.Ref == p.Predicted {
			correct++
		}
	}
	return float64(correct) / float64(len(ps))
}
