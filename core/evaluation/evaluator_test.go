package evaluation

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/partition"
	"github.com/adalundhe/aligneval/core/rank"
	"github.com/adalundhe/aligneval/core/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newEvaluator(t *testing.T, topK []int, workers int, out io.Writer) *Evaluator {
	t.Helper()
	e, err := New(Config{TopK: topK, Workers: workers, Output: out})
	require.NoError(t, err)
	return e
}

func diagonal(n int, v float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := range n {
		m.Set(i, i, v)
	}
	return m
}

func randomMatrix(rng *rand.Rand, r, c int, scale float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * scale
	}
	return mat.NewDense(r, c, data)
}

func TestEvaluateSimilarity_IdentityScenario(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	e := newEvaluator(t, []int{1, 5}, 2, &out)

	report, err := e.SimilarityReport(context.Background(), diagonal(6, 10), "identity")
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1}, report.Hits)
	assert.Equal(t, 1.0, report.MeanRank)
	assert.Equal(t, 1.0, report.MRR)
	assert.Equal(t, 1.0, report.Primary())
	assert.Nil(t, report.Pairs)

	line := out.String()
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.True(t, strings.HasPrefix(line, "identity, hits@[1 5] = [1 1], mr = 1.000, mrr = 1.000, time = "), line)
}

func TestEvaluateSimilarity_NearMissScenario(t *testing.T) {
	t.Parallel()

	sim := mat.NewDense(4, 4, nil)
	for i := range 4 {
		sim.Set(i, i, 1)
		sim.Set(i, (i+3)%4, 2)
	}

	e := newEvaluator(t, []int{1, 3}, 2, io.Discard)
	report, err := e.SimilarityReport(context.Background(), sim, "near-miss")
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1}, report.Hits)
	assert.Equal(t, 2.0, report.MeanRank)
	assert.Equal(t, 0.5, report.MRR)

	primary, err := e.EvaluateSimilarity(context.Background(), sim, "near-miss")
	require.NoError(t, err)
	assert.Equal(t, 0.0, primary)
}

func TestEvaluateSimilarity_WorkerCountInvariant(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(99))
	n := 29
	sim := randomMatrix(rng, n, n, 1)
	topK := []int{1, 3, 10}

	single, err := rank.ComputeRanks(context.Background(), partition.Range{Start: 0, End: n}.Indices(), sim, topK)
	require.NoError(t, err)
	wantMR := float64(single.RankSum) / float64(n)
	wantMRR := single.ReciprocalRankSum() / float64(n)

	for w := 1; w <= n; w++ {
		e := newEvaluator(t, topK, w, io.Discard)
		report, err := e.SimilarityReport(context.Background(), sim, "random")
		require.NoError(t, err)

		assert.Equal(t, wantMR, report.MeanRank, "w=%d", w)
		assert.Equal(t, wantMRR, report.MRR, "w=%d", w)
		for j, hits := range single.Hits {
			assert.Equal(t, round4(float64(hits)/float64(n)), report.Hits[j], "w=%d k=%d", w, topK[j])
		}
	}
}

func TestEvaluateEmbeddings_DictionaryBoost(t *testing.T) {
	t.Parallel()

	source := mat.NewDense(4, 4, []float64{
		0.8, 1.0, 0.9, 0,
		0, 1, 0, 0,
		0, 0.5, 0.2, 0,
		0, 0, 0, 1,
	})

	var out bytes.Buffer
	e := newEvaluator(t, []int{1, 3}, 3, &out)
	report, err := e.EmbeddingReport(context.Background(), source, diagonal(4, 1), map[int]int{0: 0}, "boost")
	require.NoError(t, err)

	require.NotNil(t, report.Boosted)
	assert.Equal(t, []float64{0.5, 1}, report.Base.Hits)
	assert.Equal(t, 7.0/4, report.Base.MeanRank)
	assert.Equal(t, []float64{0.75, 1}, report.Boosted.Hits)
	assert.Equal(t, 5.0/4, report.Boosted.MeanRank)
	// Entity 0 predicts its boosted top candidate, not the base one (1).
	assert.Equal(t, []rank.Pair{{0, 0}, {1, 1}, {2, 1}, {3, 3}}, report.Base.Pairs.Sorted())
	assert.Equal(t, report.Base.Pairs, report.Boosted.Pairs)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "boost, hits@[1 3] = [0.5 1]"))
	assert.True(t, strings.HasPrefix(lines[1], "boost (boosted), hits@[1 3] = [0.75 1]"))
}

func TestEvaluateEmbeddings_WithoutDictionary(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	source := randomMatrix(rng, 10, 6, 1)

	var out bytes.Buffer
	e := newEvaluator(t, []int{1, 5}, 4, &out)
	report, err := e.EmbeddingReport(context.Background(), source, source, nil, "plain")
	require.NoError(t, err)

	assert.Nil(t, report.Boosted)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))

	primary, err := e.EvaluateEmbeddings(context.Background(), source, source, nil, "plain")
	require.NoError(t, err)
	assert.Equal(t, report.Base.Primary(), primary)
}

func TestEvaluateHyperbolic_PairSetComplete(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(17))
	n := 23
	source := randomMatrix(rng, n, 5, 0.3)
	noise := randomMatrix(rng, n, 5, 0.01)
	var target mat.Dense
	target.Add(source, noise)

	for _, w := range []int{1, 4, n} {
		e := newEvaluator(t, []int{1, 10}, w, io.Discard)
		report, err := e.HyperbolicReport(context.Background(), source, &target, "hyperbolic")
		require.NoError(t, err)

		assert.Len(t, report.Pairs, n, "w=%d", w)
		seen := make(map[int]bool)
		for p := range report.Pairs {
			assert.False(t, seen[p.Ref], "duplicate ref %d", p.Ref)
			seen[p.Ref] = true
		}
		assert.Equal(t, 1.0, report.Hits[1])
	}
}

func TestEvaluateHyperbolic_UsesConfiguredScorer(t *testing.T) {
	t.Parallel()

	e, err := New(Config{TopK: []int{1}, Workers: 2, Scorer: similarity.InnerProduct{}, Output: io.Discard})
	require.NoError(t, err)

	primary, err := e.EvaluateHyperbolic(context.Background(), diagonal(5, 2), diagonal(5, 3), "ip")
	require.NoError(t, err)
	assert.Equal(t, 1.0, primary)
}

func TestEvaluate_FailureSuppressesSummary(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	e := newEvaluator(t, []int{1}, 2, &out)

	// The fourth reference has no column in a 3-entity target block.
	_, err := e.HyperbolicReport(context.Background(), diagonal(4, 0.1).Slice(0, 4, 0, 3).(*mat.Dense), diagonal(3, 0.1), "short")
	require.Error(t, err)
	assert.ErrorIs(t, err, everr.ErrPrecondition)
	assert.Empty(t, out.String())

	_, err = e.EvaluateEmbeddings(context.Background(), mat.NewDense(2, 3, nil), mat.NewDense(2, 4, nil), nil, "dims")
	assert.ErrorIs(t, err, everr.ErrInvalidInput)
	assert.Empty(t, out.String())
}

func TestEvaluate_DegenerateConfiguration(t *testing.T) {
	t.Parallel()

	_, err := New(Config{TopK: nil, Workers: 2})
	assert.ErrorIs(t, err, everr.ErrDegenerateConfig)

	_, err = New(Config{TopK: []int{1}, Workers: 0})
	assert.ErrorIs(t, err, everr.ErrDegenerateConfig)

	e := newEvaluator(t, []int{1}, 2, io.Discard)
	_, err = e.EvaluateSimilarity(context.Background(), &mat.Dense{}, "empty")
	assert.ErrorIs(t, err, everr.ErrDegenerateConfig)

	_, err = e.EvaluateSimilarity(context.Background(), nil, "nil")
	assert.ErrorIs(t, err, everr.ErrInvalidInput)
}

func TestEvaluate_Timeout(t *testing.T) {
	t.Parallel()

	e, err := New(Config{TopK: []int{1}, Workers: 2, Timeout: time.Nanosecond, Output: io.Discard})
	require.NoError(t, err)

	_, err = e.EvaluateSimilarity(context.Background(), diagonal(50, 1), "timeout")
	assert.ErrorIs(t, err, everr.ErrTimeout)
}

// stuckScorer blocks until release is closed, ignoring any deadline.
type stuckScorer struct {
	release chan struct{}
}

func (s stuckScorer) Score(query, target mat.Matrix) (*mat.Dense, error) {
	<-s.release
	return similarity.InnerProduct{}.Score(query, target)
}

func TestEvaluate_TimeoutBoundsStuckScorer(t *testing.T) {
	t.Parallel()

	scorer := stuckScorer{release: make(chan struct{})}
	t.Cleanup(func() { close(scorer.release) })

	var out bytes.Buffer
	e, err := New(Config{TopK: []int{1}, Workers: 2, Timeout: 20 * time.Millisecond, Scorer: scorer, Output: &out})
	require.NoError(t, err)

	start := time.Now()
	_, err = e.EvaluateHyperbolic(context.Background(), diagonal(4, 0.5), diagonal(4, 0.5), "stuck")
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, everr.ErrTimeout)
	assert.Empty(t, out.String())
}

func TestReport_String(t *testing.T) {
	t.Parallel()

	r := &Report{
		Label:    "test",
		TopK:     []int{1, 10},
		Hits:     []float64{0.1234, 0.9},
		MeanRank: 3.14159,
		MRR:      0.5,
		Elapsed:  1500 * time.Millisecond,
	}
	assert.Equal(t, "test, hits@[1 10] = [0.1234 0.9], mr = 3.142, mrr = 0.500, time = 1.500 s", r.String())
}

func TestRound4(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.3333, round4(1.0/3))
	assert.Equal(t, 0.6667, round4(2.0/3))
	assert.Equal(t, 1.0, round4(1))
}
