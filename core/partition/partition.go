// Package partition splits an index range into near-equal contiguous chunks.
package partition

import (
	"fmt"

	everr "github.com/adalundhe/aligneval/core/errors"
)

// Range is the half-open index interval [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Start
}

// Indices materializes the range as an ordered index slice.
func (r Range) Indices() []int {
	out := make([]int, r.Len())
	for i := range out {
		out[i] = r.Start + i
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Split partitions [0, n) into min(parts, n) contiguous ranges whose sizes
// differ by at most one. The first n%parts ranges carry the extra element.
func Split(n, parts int) ([]Range, error) {
	if n <= 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "cannot partition empty range (n=%d)", n)
	}
	if parts <= 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "partition count must be positive, got %d", parts)
	}
	parts = min(parts, n)

	size, extra := n/parts, n%parts
	ranges := make([]Range, parts)
	start := 0
	for i := range parts {
		end := start + size
		if i < extra {
			end++
		}
		ranges[i] = Range{Start: start, End: end}
		start = end
	}
	return ranges, nil
}
