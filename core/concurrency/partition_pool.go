package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/partition"
	"golang.org/x/sync/errgroup"
)

// PartitionFunc computes the result of one partition. It must not mutate
// shared inputs.
type PartitionFunc[T any] func(ctx context.Context, part partition.Range) (T, error)

// MapPartitions runs fn once per partition on a pool exactly as wide as
// parts, waits for every unit and returns the results in partition order.
//
// The first failing unit cancels the others and its error is returned; no
// partial results are returned. Panics inside a unit are converted to
// worker failures. The wait itself ends when ctx is done, even if a unit
// ignores its context; a deadline surfaces as a timeout error.
func MapPartitions[T any](ctx context.Context, logger *slog.Logger, parts []partition.Range, fn PartitionFunc[T]) ([]T, error) {
	if len(parts) == 0 {
		return nil, everr.Newf(everr.KindDegenerateConfig, "no partitions to dispatch")
	}
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]T, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(parts))

	for i, part := range parts {
		g.Go(func() (err error) {
			defer recoverPartition(part, &err)

			start := time.Now()
			res, err := fn(gctx, part)
			if err != nil {
				return classify(part, err)
			}
			results[i] = res
			logger.Debug("partition complete",
				"partition", part.String(),
				"rows", part.Len(),
				"elapsed", time.Since(start))
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return results, nil
	case <-ctx.Done():
		// Units still running are abandoned; they only write into results,
		// which is discarded.
		select {
		case err := <-done:
			if err != nil {
				return nil, err
			}
			return results, nil
		default:
		}
		logger.Warn("abandoning partitions at barrier", "partitions", len(parts), "cause", ctx.Err())
		return nil, barrierError(ctx.Err())
	}
}

func barrierError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return everr.New(everr.KindTimeout, "partitions did not finish before the deadline", err)
	}
	return everr.New(everr.KindWorkerFailure, "partition wait canceled", err)
}

func classify(part partition.Range, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return everr.New(everr.KindTimeout, "partition "+part.String()+" exceeded deadline", err).
			WithContext("partition", part.String())
	}
	wrapped := everr.Wrap(everr.KindWorkerFailure, "partition "+part.String()+" failed", err)
	var ee *everr.EvalError
	if errors.As(wrapped, &ee) {
		ee.WithContext("partition", part.String())
	}
	return wrapped
}

func recoverPartition(part partition.Range, err *error) {
	if r := recover(); r != nil {
		*err = everr.New(everr.KindWorkerFailure, "partition "+part.String()+" panicked",
			fmt.Errorf("panic: %v\n%s", r, captureStack())).
			WithContext("partition", part.String())
	}
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
