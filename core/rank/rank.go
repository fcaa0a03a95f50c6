package rank

import (
	"cmp"
	"context"
	"slices"
	"strconv"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/similarity"
	"gonum.org/v1/gonum/mat"
)

// ranker holds the permutation buffer reused across rows of one partition.
type ranker struct {
	order []int
}

// rank orders the candidates of row by descending similarity and returns the
// position of ref in that ordering along with the top candidate.
func (r *ranker) rank(row []float64, ref int) (position, best int, err error) {
	n := len(row)
	if cap(r.order) < n {
		r.order = make([]int, n)
	}
	order := r.order[:n]
	for j := range order {
		order[j] = j
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(row[b], row[a])
	})

	position = slices.Index(order, ref)
	if position < 0 {
		return 0, 0, everr.Newf(everr.KindPrecondition,
			"true match %d absent from candidate ordering of %d columns", ref, n).
			WithContext("ref", strconv.Itoa(ref))
	}
	return position, order[0], nil
}

func checkRows(refs []int, sim mat.Matrix) error {
	if sim == nil {
		return everr.Newf(everr.KindInvalidInput, "nil similarity matrix")
	}
	r, _ := sim.Dims()
	if r != len(refs) {
		return everr.Newf(everr.KindInvalidInput,
			"similarity matrix has %d rows for %d reference entities", r, len(refs))
	}
	return nil
}

func rowView(sim mat.Matrix, i int, buf []float64) []float64 {
	if v, ok := sim.(mat.RawRowViewer); ok {
		return v.RawRowView(i)
	}
	return mat.Row(buf, i, sim)
}

// ComputeRanks ranks row i of sim against refs[i], the true match of that
// row, and returns the accumulated statistics.
func ComputeRanks(ctx context.Context, refs []int, sim mat.Matrix, topK []int) (*Stats, error) {
	stats, _, err := computeRanks(ctx, refs, sim, topK, false)
	return stats, err
}

// ComputeRanksWithPairs is ComputeRanks that also returns the best
// candidate of every row as a predicted pair.
func ComputeRanksWithPairs(ctx context.Context, refs []int, sim mat.Matrix, topK []int) (*Stats, PairSet, error) {
	return computeRanks(ctx, refs, sim, topK, true)
}

func computeRanks(ctx context.Context, refs []int, sim mat.Matrix, topK []int, withPairs bool) (*Stats, PairSet, error) {
	if err := ValidateTopK(topK); err != nil {
		return nil, nil, err
	}
	if err := checkRows(refs, sim); err != nil {
		return nil, nil, err
	}

	_, cols := sim.Dims()
	stats := NewStats(topK)
	var pairs PairSet
	if withPairs {
		pairs = make(PairSet, len(refs))
	}

	var r ranker
	buf := make([]float64, cols)
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		pos, best, err := r.rank(rowView(sim, i, buf), ref)
		if err != nil {
			return nil, nil, err
		}
		stats.Add(pos)
		if withPairs {
			pairs.Add(ref, best)
		}
	}
	return stats, pairs, nil
}

// ComputeRanksHyperbolic scores query against target with scorer (a
// Hyperbolic scorer when nil) and ranks the result. The similarity matrix
// lives only for the duration of the call.
func ComputeRanksHyperbolic(ctx context.Context, refs []int, query, target mat.Matrix, scorer similarity.Scorer, topK []int) (*Stats, PairSet, error) {
	if scorer == nil {
		scorer = similarity.Hyperbolic{}
	}
	sim, err := scorer.Score(query, target)
	if err != nil {
		return nil, nil, err
	}
	return computeRanks(ctx, refs, sim, topK, true)
}
