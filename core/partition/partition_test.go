package partition

import (
	"testing"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Coverage(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 7, 10, 33} {
		for w := 1; w <= n; w++ {
			ranges, err := Split(n, w)
			require.NoError(t, err)
			require.Len(t, ranges, w)

			var covered []int
			minLen, maxLen := n, 0
			for _, r := range ranges {
				covered = append(covered, r.Indices()...)
				minLen = min(minLen, r.Len())
				maxLen = max(maxLen, r.Len())
			}

			require.Len(t, covered, n, "n=%d w=%d", n, w)
			for i, idx := range covered {
				assert.Equal(t, i, idx, "n=%d w=%d", n, w)
			}
			assert.LessOrEqual(t, maxLen-minLen, 1, "n=%d w=%d", n, w)
		}
	}
}

func TestSplit_ClampsToRangeLength(t *testing.T) {
	t.Parallel()

	ranges, err := Split(3, 8)
	require.NoError(t, err)
	assert.Equal(t, []Range{{0, 1}, {1, 2}, {2, 3}}, ranges)
}

func TestSplit_RemainderGoesFirst(t *testing.T) {
	t.Parallel()

	ranges, err := Split(10, 4)
	require.NoError(t, err)
	assert.Equal(t, []Range{{0, 3}, {3, 6}, {6, 8}, {8, 10}}, ranges)
}

func TestSplit_Degenerate(t *testing.T) {
	t.Parallel()

	_, err := Split(0, 2)
	assert.ErrorIs(t, err, everr.ErrDegenerateConfig)

	_, err = Split(5, 0)
	assert.ErrorIs(t, err, everr.ErrDegenerateConfig)
}

func TestRange_String(t *testing.T) {
	assert.Equal(t, "[2,5)", Range{Start: 2, End: 5}.String())
}
