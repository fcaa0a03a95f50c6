package evaluation

import (
	"fmt"
	"math"
	"time"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/rank"
)

// Report holds the normalized metrics of one evaluation call.
type Report struct {
	Label    string        `json:"label"`
	TopK     []int         `json:"top_k"`
	Hits     []float64     `json:"hits"`
	MeanRank float64       `json:"mr"`
	MRR      float64       `json:"mrr"`
	Elapsed  time.Duration `json:"elapsed_ns"`

	// Pairs holds the predicted alignment; nil for similarity-matrix
	// evaluations. For embedding evaluations each reference's prediction is
	// the top candidate of the last pass ranked for it, which is the boosted
	// pass whenever a dictionary entry applied.
	Pairs rank.PairSet `json:"-"`
}

// Primary returns hits at the first configured threshold.
func (r *Report) Primary() float64 {
	return r.Hits[0]
}

// String formats the one-line summary emitted by every entry point.
func (r *Report) String() string {
	return fmt.Sprintf("%s, hits@%v = %v, mr = %.3f, mrr = %.3f, time = %.3f s",
		r.Label, r.TopK, r.Hits, r.MeanRank, r.MRR, r.Elapsed.Seconds())
}

// BoostedReport pairs the plain and dictionary-boosted rankings of one
// embedding evaluation. Boosted is nil when no dictionary was supplied.
// Base and Boosted share one PairSet, so Base.Pairs carries boosted
// predictions for dictionary-matched references.
type BoostedReport struct {
	Base    *Report
	Boosted *Report
}

func newReport(label string, stats *rank.Stats, elapsed time.Duration) (*Report, error) {
	if stats.Count == 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "no reference entities were ranked")
	}
	total := float64(stats.Count)

	hits := make([]float64, len(stats.Hits))
	for j, n := range stats.Hits {
		hits[j] = round4(float64(n) / total)
	}
	return &Report{
		Label:    label,
		TopK:     stats.TopK,
		Hits:     hits,
		MeanRank: float64(stats.RankSum) / total,
		MRR:      stats.ReciprocalRankSum() / total,
		Elapsed:  elapsed,
	}, nil
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
