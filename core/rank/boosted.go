package rank

import (
	"context"
	"strconv"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/similarity"
	"gonum.org/v1/gonum/mat"
)

// DictionaryBoost is the additive bonus applied to a dictionary candidate
// before the second ranking pass.
const DictionaryBoost = 1.0

// BoostedResult holds both ranking passes of ComputeRanksBoosted.
type BoostedResult struct {
	Base    *Stats
	Boosted *Stats
	Pairs   PairSet
}

// ComputeRanksBoosted scores query against target by inner product and
// ranks every row twice. The base pass is the plain ranking. The boosted
// pass adds DictionaryBoost to the candidate dict[ref] (when the entry
// exists and is non-negative) and re-ranks; references without an entry
// contribute their base statistics to the boosted aggregate unchanged.
//
// The predicted pair for a row is its top candidate after whichever pass
// ran last for it.
func ComputeRanksBoosted(ctx context.Context, refs []int, query, target mat.Matrix, dict map[int]int, topK []int) (*BoostedResult, error) {
	if err := ValidateTopK(topK); err != nil {
		return nil, err
	}
	sim, err := similarity.InnerProduct{}.Score(query, target)
	if err != nil {
		return nil, err
	}
	if err := checkRows(refs, sim); err != nil {
		return nil, err
	}

	_, cols := sim.Dims()
	res := &BoostedResult{
		Base:    NewStats(topK),
		Boosted: NewStats(topK),
		Pairs:   make(PairSet, len(refs)),
	}

	var r ranker
	boosted := make([]float64, cols)
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := sim.RawRowView(i)
		pos, aligned, err := r.rank(row, ref)
		if err != nil {
			return nil, err
		}
		res.Base.Add(pos)

		candidate, ok := dict[ref]
		if ok && candidate >= 0 {
			if candidate >= cols {
				return nil, everr.Newf(everr.KindPrecondition,
					"dictionary candidate %d for reference %d outside %d columns", candidate, ref, cols).
					WithContext("ref", strconv.Itoa(ref))
			}
			copy(boosted, row)
			boosted[candidate] += DictionaryBoost
			pos, aligned, err = r.rank(boosted, ref)
			if err != nil {
				return nil, err
			}
		}
		res.Boosted.Add(pos)
		res.Pairs.Add(ref, aligned)
	}
	return res, nil
}
