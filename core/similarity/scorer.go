// Package similarity provides the pluggable scoring kernels that turn a
// query block and a target block of embeddings into a dense similarity
// matrix (rows = query entities, columns = target entities, larger = more
// similar).
package similarity

import (
	"math"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// Scorer computes a similarity matrix for a query block against a target
// block. Implementations hold no mutable state and may be called
// concurrently, one call per partition.
type Scorer interface {
	Score(query, target mat.Matrix) (*mat.Dense, error)
}

const (
	KindInnerProduct = "inner_product"
	KindHyperbolic   = "hyperbolic"

	DefaultEpsilon = 1e-5
)

// New returns the scorer registered under kind.
func New(kind string, epsilon float64) (Scorer, error) {
	switch kind {
	case KindInnerProduct:
		return InnerProduct{}, nil
	case KindHyperbolic:
		return Hyperbolic{Epsilon: epsilon}, nil
	default:
		return nil, everr.Newf(everr.KindInvalidInput, "unknown scorer %q", kind)
	}
}

func checkBlocks(query, target mat.Matrix) error {
	if query == nil || target == nil {
		return everr.Newf(everr.KindInvalidInput, "nil embedding block")
	}
	qr, qc := query.Dims()
	tr, tc := target.Dims()
	if qr == 0 || tr == 0 || qc == 0 {
		return everr.Newf(everr.KindInvalidInput, "empty embedding block (%dx%d, %dx%d)", qr, qc, tr, tc)
	}
	if qc != tc {
		return everr.Newf(everr.KindInvalidInput,
			"embedding dimension mismatch: query has %d columns, target has %d", qc, tc)
	}
	return nil
}

// =============================================================================
// Inner product
// =============================================================================

// InnerProduct scores by dot product: S = Q * T^T.
type InnerProduct struct{}

func (InnerProduct) Score(query, target mat.Matrix) (*mat.Dense, error) {
	if err := checkBlocks(query, target); err != nil {
		return nil, err
	}
	var sim mat.Dense
	sim.Mul(query, target.T())
	return &sim, nil
}

// =============================================================================
// Hyperbolic (Poincare ball)
// =============================================================================

// Hyperbolic scores by negated Poincare-ball distance
//
//	d(u, v) = arcosh(1 + 2|u-v|^2 / ((1-|u|^2)(1-|v|^2)))
//
// Epsilon bounds the conformal factors away from zero so points on or past
// the ball boundary produce large but finite distances.
type Hyperbolic struct {
	Epsilon float64
}

func (h Hyperbolic) Score(query, target mat.Matrix) (*mat.Dense, error) {
	if err := checkBlocks(query, target); err != nil {
		return nil, err
	}
	eps := h.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}

	qRows := rows(query)
	tRows := rows(target)
	tNorms := make([]float64, len(tRows))
	for j, v := range tRows {
		tNorms[j] = vek.Dot(v, v)
	}

	sim := mat.NewDense(len(qRows), len(tRows), nil)
	diff := make([]float64, len(qRows[0]))
	for i, u := range qRows {
		alpha := math.Max(1-vek.Dot(u, u), eps)
		out := sim.RawRowView(i)
		for j, v := range tRows {
			// |u-v|^2 from the difference vector; expanding through the
			// norms cancels to zero for near-duplicate points.
			vek.Sub_Into(diff, u, v)
			sq := vek.Dot(diff, diff)
			beta := math.Max(1-tNorms[j], eps)
			out[j] = -acosh1p(2 * sq / (alpha * beta))
		}
	}
	return sim, nil
}

// acosh1p returns arcosh(1+x) without forming 1+x, which rounds to 1 for
// x below the float64 epsilon.
func acosh1p(x float64) float64 {
	return math.Log1p(x + math.Sqrt(x*(x+2)))
}

// Distance returns the Poincare distance between two points.
func (h Hyperbolic) Distance(u, v []float64) (float64, error) {
	if len(u) == 0 || len(u) != len(v) {
		return 0, everr.Newf(everr.KindInvalidInput, "length mismatch: %d vs %d", len(u), len(v))
	}
	sim, err := h.Score(mat.NewDense(1, len(u), u), mat.NewDense(1, len(v), v))
	if err != nil {
		return 0, err
	}
	return -sim.At(0, 0), nil
}

// rows returns row views for a Dense and row copies for any other matrix.
func rows(m mat.Matrix) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	if d, ok := m.(mat.RawRowViewer); ok {
		for i := range r {
			out[i] = d.RawRowView(i)
		}
		return out
	}
	for i := range r {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
