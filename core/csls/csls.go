// Package csls implements Cross-domain Similarity Local Scaling: each
// similarity is adjusted by the local neighborhood density of both of its
// endpoints, 2*S[i][j] - r(i) - c(j), where r(i) and c(j) are the mean
// similarities of row i and column j to their k nearest neighbors.
package csls

import (
	"context"
	"log/slog"
	"time"

	"github.com/adalundhe/aligneval/core/concurrency"
	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/partition"
	"github.com/adalundhe/aligneval/core/similarity"
	"github.com/viterin/partial"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LocalNeighborMean returns, for every row of sim, the arithmetic mean of
// its k largest values. Each row is only partially sorted: the k+1 largest
// values are selected and the top k of those averaged.
func LocalNeighborMean(sim mat.Matrix, k int) ([]float64, error) {
	if sim == nil {
		return nil, everr.Newf(everr.KindInvalidInput, "nil similarity matrix")
	}
	r, c := sim.Dims()
	if k <= 0 || k > c {
		return nil, everr.Newf(everr.KindDegenerateConfig,
			"neighborhood size %d outside [1, %d]", k, c)
	}

	means := make([]float64, r)
	neg := make([]float64, c)
	raw, isRaw := sim.(mat.RawRowViewer)
	for i := range r {
		if isRaw {
			for j, v := range raw.RawRowView(i) {
				neg[j] = -v
			}
		} else {
			for j := range c {
				neg[j] = -sim.At(i, j)
			}
		}
		partial.Sort(neg, min(k+1, c))
		means[i] = -stat.Mean(neg[:k], nil)
	}
	return means, nil
}

// Config configures a Normalizer.
type Config struct {
	Scorer  similarity.Scorer
	Workers int
	Logger  *slog.Logger // Optional, uses slog.Default() if nil
}

// Normalizer computes CSLS-adjusted similarity matrices, fanning each
// stage out over Workers contiguous row partitions.
type Normalizer struct {
	scorer  similarity.Scorer
	workers int
	logger  *slog.Logger
}

func NewNormalizer(cfg Config) (*Normalizer, error) {
	if cfg.Scorer == nil {
		cfg.Scorer = similarity.Hyperbolic{}
	}
	if cfg.Workers <= 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Normalizer{
		scorer:  cfg.Scorer,
		workers: cfg.Workers,
		logger:  cfg.Logger,
	}, nil
}

// BaseSimilarity scores every partition of query against the full target
// block and stacks the partition results in row order.
func (n *Normalizer) BaseSimilarity(ctx context.Context, query, target *mat.Dense) (*mat.Dense, error) {
	if query == nil || target == nil {
		return nil, everr.Newf(everr.KindInvalidInput, "nil embedding block")
	}
	rows, dim := query.Dims()
	cols, _ := target.Dims()
	parts, err := partition.Split(rows, n.workers)
	if err != nil {
		return nil, err
	}

	blocks, err := concurrency.MapPartitions(ctx, n.logger, parts,
		func(_ context.Context, p partition.Range) (*mat.Dense, error) {
			return n.scorer.Score(query.Slice(p.Start, p.End, 0, dim), target)
		})
	if err != nil {
		return nil, err
	}

	sim := mat.NewDense(rows, cols, nil)
	for i, p := range parts {
		sim.Slice(p.Start, p.End, 0, cols).(*mat.Dense).Copy(blocks[i])
	}
	return sim, nil
}

// NeighborMeans computes LocalNeighborMean of sim in parallel and
// concatenates the partition vectors in row order.
func (n *Normalizer) NeighborMeans(ctx context.Context, sim *mat.Dense, k int) ([]float64, error) {
	rows, cols := sim.Dims()
	parts, err := partition.Split(rows, n.workers)
	if err != nil {
		return nil, err
	}

	chunks, err := concurrency.MapPartitions(ctx, n.logger, parts,
		func(_ context.Context, p partition.Range) ([]float64, error) {
			return LocalNeighborMean(sim.Slice(p.Start, p.End, 0, cols), k)
		})
	if err != nil {
		return nil, err
	}

	means := make([]float64, 0, rows)
	for _, c := range chunks {
		means = append(means, c...)
	}
	if len(means) != rows {
		return nil, everr.Newf(everr.KindPrecondition,
			"neighbor means cover %d of %d rows", len(means), rows)
	}
	return means, nil
}

// Similarity returns the CSLS-adjusted similarity of query against target.
// With k == 0 the unadjusted base similarity is returned.
func (n *Normalizer) Similarity(ctx context.Context, query, target *mat.Dense, k int) (*mat.Dense, error) {
	if k < 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "CSLS k must be non-negative, got %d", k)
	}
	start := time.Now()

	sim, err := n.BaseSimilarity(ctx, query, target)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		return sim, nil
	}

	rowMeans, err := n.NeighborMeans(ctx, sim, k)
	if err != nil {
		return nil, err
	}
	colMeans, err := n.NeighborMeans(ctx, mat.DenseCopyOf(sim.T()), k)
	if err != nil {
		return nil, err
	}

	if err := Adjust(sim, rowMeans, colMeans); err != nil {
		return nil, err
	}
	rows, cols := sim.Dims()
	n.logger.Debug("csls similarity computed",
		"rows", rows, "cols", cols, "k", k, "elapsed", time.Since(start))
	return sim, nil
}

// Adjust rewrites sim in place to 2*S - rowMeans (per row) - colMeans (per
// column).
func Adjust(sim *mat.Dense, rowMeans, colMeans []float64) error {
	rows, cols := sim.Dims()
	if len(rowMeans) != rows || len(colMeans) != cols {
		return everr.Newf(everr.KindPrecondition,
			"local means (%d, %d) do not match %dx%d matrix", len(rowMeans), len(colMeans), rows, cols)
	}
	for i := range rows {
		row := sim.RawRowView(i)
		floats.Scale(2, row)
		floats.AddConst(-rowMeans[i], row)
		floats.Sub(row, colMeans)
	}
	return nil
}
