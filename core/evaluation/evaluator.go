// Package evaluation drives parallel rank evaluation of entity-alignment
// embeddings: it partitions the reference range, ranks each partition on
// its own worker, reduces the partial sums and reports MR, MRR and hits@k.
package evaluation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/adalundhe/aligneval/core/concurrency"
	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/partition"
	"github.com/adalundhe/aligneval/core/rank"
	"github.com/adalundhe/aligneval/core/similarity"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Config configures an Evaluator.
type Config struct {
	TopK    []int
	Workers int

	// Timeout bounds the wait for all partitions; zero waits indefinitely.
	Timeout time.Duration

	// Scorer is the kernel used by hyperbolic evaluation.
	Scorer similarity.Scorer // Optional, uses similarity.Hyperbolic if nil

	Output io.Writer    // Optional, uses os.Stdout if nil
	Logger *slog.Logger // Optional, uses slog.Default() if nil
}

// Evaluator runs evaluation calls. It holds no state between calls and is
// safe for concurrent use.
type Evaluator struct {
	topK    []int
	workers int
	timeout time.Duration
	scorer  similarity.Scorer
	out     io.Writer
	logger  *slog.Logger
}

func New(cfg Config) (*Evaluator, error) {
	cfg = applyConfigDefaults(cfg)

	if err := rank.ValidateTopK(cfg.TopK); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "worker count must be positive, got %d", cfg.Workers)
	}

	return &Evaluator{
		topK:    slices.Clone(cfg.TopK),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		scorer:  cfg.Scorer,
		out:     cfg.Output,
		logger:  cfg.Logger,
	}, nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Scorer == nil {
		cfg.Scorer = similarity.Hyperbolic{}
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Entry points
// =============================================================================

// EvaluateSimilarity ranks every row of sim against its own index and
// returns hits at the first threshold.
func (e *Evaluator) EvaluateSimilarity(ctx context.Context, sim *mat.Dense, label string) (float64, error) {
	report, err := e.SimilarityReport(ctx, sim, label)
	if err != nil {
		return 0, err
	}
	return report.Primary(), nil
}

// EvaluateEmbeddings ranks source against target by inner product, with an
// optional dictionary-boosted second pass, and returns hits at the first
// threshold of the plain ranking.
func (e *Evaluator) EvaluateEmbeddings(ctx context.Context, source, target *mat.Dense, dict map[int]int, label string) (float64, error) {
	report, err := e.EmbeddingReport(ctx, source, target, dict, label)
	if err != nil {
		return 0, err
	}
	return report.Base.Primary(), nil
}

// EvaluateHyperbolic ranks source against target with the configured
// scorer and returns hits at the first threshold.
func (e *Evaluator) EvaluateHyperbolic(ctx context.Context, source, target *mat.Dense, label string) (float64, error) {
	report, err := e.HyperbolicReport(ctx, source, target, label)
	if err != nil {
		return 0, err
	}
	return report.Primary(), nil
}

// SimilarityReport is EvaluateSimilarity returning the full report.
func (e *Evaluator) SimilarityReport(ctx context.Context, sim *mat.Dense, label string) (*Report, error) {
	if sim == nil {
		return nil, everr.Newf(everr.KindInvalidInput, "nil similarity matrix")
	}
	start := time.Now()
	ctx, cancel, logger := e.begin(ctx, label)
	defer cancel()

	refCount, cols := sim.Dims()
	parts, err := e.partitions(refCount)
	if err != nil {
		return nil, err
	}

	partials, err := concurrency.MapPartitions(ctx, logger, parts,
		func(ctx context.Context, p partition.Range) (*rank.Stats, error) {
			return rank.ComputeRanks(ctx, p.Indices(), sim.Slice(p.Start, p.End, 0, cols), e.topK)
		})
	if err != nil {
		return nil, err
	}

	stats, err := e.reduce(partials)
	if err != nil {
		return nil, err
	}
	return e.finish(logger, label, stats, nil, refCount, start)
}

// EmbeddingReport is EvaluateEmbeddings returning both reports.
func (e *Evaluator) EmbeddingReport(ctx context.Context, source, target *mat.Dense, dict map[int]int, label string) (*BoostedReport, error) {
	if source == nil || target == nil {
		return nil, everr.Newf(everr.KindInvalidInput, "nil embedding block")
	}
	start := time.Now()
	ctx, cancel, logger := e.begin(ctx, label)
	defer cancel()

	refCount, dim := source.Dims()
	parts, err := e.partitions(refCount)
	if err != nil {
		return nil, err
	}

	partials, err := concurrency.MapPartitions(ctx, logger, parts,
		func(ctx context.Context, p partition.Range) (*rank.BoostedResult, error) {
			return rank.ComputeRanksBoosted(ctx, p.Indices(), source.Slice(p.Start, p.End, 0, dim), target, dict, e.topK)
		})
	if err != nil {
		return nil, err
	}

	baseParts := make([]*rank.Stats, len(partials))
	boostedParts := make([]*rank.Stats, len(partials))
	pairParts := make([]rank.PairSet, len(partials))
	for i, p := range partials {
		baseParts[i], boostedParts[i], pairParts[i] = p.Base, p.Boosted, p.Pairs
	}

	base, err := e.reduce(baseParts)
	if err != nil {
		return nil, err
	}
	if base.Count != refCount {
		return nil, everr.Newf(everr.KindPrecondition,
			"ranked %d of %d reference entities", base.Count, refCount)
	}
	pairs, err := unionPairs(pairParts, refCount)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	out := &BoostedReport{}
	if out.Base, err = newReport(label, base, elapsed); err != nil {
		return nil, err
	}
	out.Base.Pairs = pairs

	if dict != nil {
		boosted, err := e.reduce(boostedParts)
		if err != nil {
			return nil, err
		}
		if out.Boosted, err = newReport(label+" (boosted)", boosted, elapsed); err != nil {
			return nil, err
		}
		out.Boosted.Pairs = pairs
	}

	e.emit(logger, out.Base)
	if out.Boosted != nil {
		e.emit(logger, out.Boosted)
	}
	return out, nil
}

// HyperbolicReport is EvaluateHyperbolic returning the full report.
func (e *Evaluator) HyperbolicReport(ctx context.Context, source, target *mat.Dense, label string) (*Report, error) {
	if source == nil || target == nil {
		return nil, everr.Newf(everr.KindInvalidInput, "nil embedding block")
	}
	start := time.Now()
	ctx, cancel, logger := e.begin(ctx, label)
	defer cancel()

	refCount, dim := source.Dims()
	parts, err := e.partitions(refCount)
	if err != nil {
		return nil, err
	}

	type partial struct {
		stats *rank.Stats
		pairs rank.PairSet
	}
	partials, err := concurrency.MapPartitions(ctx, logger, parts,
		func(ctx context.Context, p partition.Range) (partial, error) {
			stats, pairs, err := rank.ComputeRanksHyperbolic(ctx, p.Indices(),
				source.Slice(p.Start, p.End, 0, dim), target, e.scorer, e.topK)
			return partial{stats: stats, pairs: pairs}, err
		})
	if err != nil {
		return nil, err
	}

	statParts := make([]*rank.Stats, len(partials))
	pairParts := make([]rank.PairSet, len(partials))
	for i, p := range partials {
		statParts[i], pairParts[i] = p.stats, p.pairs
	}

	stats, err := e.reduce(statParts)
	if err != nil {
		return nil, err
	}
	pairs, err := unionPairs(pairParts, refCount)
	if err != nil {
		return nil, err
	}
	return e.finish(logger, label, stats, pairs, refCount, start)
}

// =============================================================================
// Driver internals
// =============================================================================

func (e *Evaluator) begin(ctx context.Context, label string) (context.Context, context.CancelFunc, *slog.Logger) {
	logger := e.logger.With("run_id", uuid.NewString(), "label", label)
	if e.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		return ctx, cancel, logger
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, logger
}

func (e *Evaluator) partitions(refCount int) ([]partition.Range, error) {
	if refCount == 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "reference set is empty")
	}
	return partition.Split(refCount, e.workers)
}

func (e *Evaluator) reduce(partials []*rank.Stats) (*rank.Stats, error) {
	total := rank.NewStats(e.topK)
	for _, p := range partials {
		if err := total.Merge(p); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// unionPairs merges per-partition pair sets; the union must hold exactly
// one pair per reference entity.
func unionPairs(parts []rank.PairSet, refCount int) (rank.PairSet, error) {
	all := make(rank.PairSet, refCount)
	for _, p := range parts {
		all.Union(p)
	}
	if len(all) != refCount {
		return nil, everr.Newf(everr.KindPrecondition,
			"predicted pair set holds %d pairs for %d reference entities", len(all), refCount).
			WithContext("pairs", fmt.Sprint(len(all)))
	}
	return all, nil
}

func (e *Evaluator) finish(logger *slog.Logger, label string, stats *rank.Stats, pairs rank.PairSet, refCount int, start time.Time) (*Report, error) {
	if stats.Count != refCount {
		return nil, everr.Newf(everr.KindPrecondition,
			"ranked %d of %d reference entities", stats.Count, refCount)
	}
	report, err := newReport(label, stats, time.Since(start))
	if err != nil {
		return nil, err
	}
	report.Pairs = pairs
	e.emit(logger, report)
	return report, nil
}

func (e *Evaluator) emit(logger *slog.Logger, r *Report) {
	fmt.Fprintln(e.out, r.String())
	logger.Info("evaluation complete",
		"hits", r.Hits,
		"mr", r.MeanRank,
		"mrr", r.MRR,
		"elapsed", r.Elapsed)
}
