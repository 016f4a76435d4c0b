// Package engine turns a stage's entity list, or a paginated source, into
// timed bounded-size requests. One pacing primitive serves both modes: a
// rate limiter enforcing the configured interval as a lower bound between
// successive units of work.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/refdata-migrate/internal/gateway"
	"github.com/sells-group/refdata-migrate/internal/model"
	"github.com/sells-group/refdata-migrate/internal/tracker"
)

// BatchRecord is the journal entry for one resolved unit of work.
type BatchRecord struct {
	Stage    model.Stage
	Index    int
	Size     int
	Status   int
	Err      string
	Duration time.Duration
}

// Recorder persists batch outcomes. Implementations must tolerate being
// called from the dispatch goroutine.
type Recorder interface {
	Record(ctx context.Context, rec BatchRecord)
}

// Action posts one chunk to its destination and returns the response.
// Failures are journaled and logged, never retried at this layer.
type Action[T any] func(ctx context.Context, items []T) (*gateway.Response, error)

// Engine owns the pacing limiter and the completion tracker hookup shared by
// push and pull modes.
type Engine struct {
	tracker  *tracker.Tracker
	recorder Recorder
	interval time.Duration
	limit    int
}

// New creates an engine. limit is the batch/page size; interval is the
// minimum delay between successive dispatches.
func New(t *tracker.Tracker, rec Recorder, interval time.Duration, limit int) *Engine {
	if limit <= 0 {
		limit = 50
	}
	return &Engine{tracker: t, recorder: rec, interval: interval, limit: limit}
}

// Limit returns the configured batch/page size.
func (e *Engine) Limit() int { return e.limit }

func (e *Engine) limiter() *rate.Limiter {
	if e.interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.interval), 1)
}

// Chunk splits items into ordered slices of at most size elements. The
// result covers all items exactly once in original order.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Push chunks items at the engine's batch size and dispatches each chunk in
// index order through action, pacing dispatches with the engine interval.
// The stage counter is started with the chunk count before the loop begins
// and resolved once per chunk, success or failure. An empty list
// short-circuits to an immediate stage-complete signal.
func Push[T any](ctx context.Context, e *Engine, stage model.Stage, items []T, action Action[T]) {
	chunks := Chunk(items, e.limit)
	e.tracker.Start(stage, int64(len(chunks)))
	if len(chunks) == 0 {
		zap.L().Info("nothing to dispatch", zap.String("stage", stage.String()))
		return
	}

	zap.L().Info("dispatching",
		zap.String("stage", stage.String()),
		zap.Int("records", len(items)),
		zap.Int("batches", len(chunks)),
		zap.Duration("interval", e.interval),
	)

	lim := e.limiter()
	go func() {
		for i, chunk := range chunks {
			if err := lim.Wait(ctx); err != nil {
				// Shutdown mid-stage: resolve remaining units so the
				// counter invariant holds.
				for range chunks[i:] {
					e.tracker.Complete(stage)
				}
				return
			}
			dispatch(ctx, e, stage, i, chunk, action)
		}
	}()
}

func dispatchOutcome(resp *gateway.Response, err error) (status int, errMsg string) {
	if err != nil {
		return 0, err.Error()
	}
	return resp.StatusCode, ""
}

func dispatch[T any](ctx context.Context, e *Engine, stage model.Stage, index int, chunk []T, action Action[T]) {
	started := time.Now()
	resp, err := action(ctx, chunk)
	status, errMsg := dispatchOutcome(resp, err)

	if err != nil {
		zap.L().Warn("batch failed",
			zap.String("stage", stage.String()),
			zap.Int("batch", index),
			zap.Error(err),
		)
	}
	if e.recorder != nil {
		e.recorder.Record(ctx, BatchRecord{
			Stage:    stage,
			Index:    index,
			Size:     len(chunk),
			Status:   status,
			Err:      errMsg,
			Duration: time.Since(started),
		})
	}
	e.tracker.Complete(stage)
}

// PageFunc consumes one page of pulled records. It chains the downstream
// transformation or posting for that page and must not outrun the pacing
// interval with its own blocking work.
type PageFunc[T any] func(ctx context.Context, items []T) error

// Source is a paginated record source, typically the live source database.
type Source[T any] interface {
	Count(ctx context.Context) (int, error)
	Fetch(ctx context.Context, offset, limit int) ([]T, error)
}

// Pull polls src page by page, invoking page for each. The stage counter is
// started with ceil(count/limit) before the loop; each page resolves one
// unit whether the fetch or the callback succeeded or not. A zero count
// short-circuits to an immediate stage-complete signal. The count query
// itself failing is an acquisition error returned to the caller.
func Pull[T any](ctx context.Context, e *Engine, stage model.Stage, src Source[T], page PageFunc[T]) error {
	count, err := src.Count(ctx)
	if err != nil {
		return err
	}

	pages := (count + e.limit - 1) / e.limit
	e.tracker.Start(stage, int64(pages))
	if pages == 0 {
		zap.L().Info("nothing to pull", zap.String("stage", stage.String()))
		return nil
	}

	zap.L().Info("polling source",
		zap.String("stage", stage.String()),
		zap.Int("records", count),
		zap.Int("pages", pages),
		zap.Duration("interval", e.interval),
	)

	lim := e.limiter()
	go func() {
		index := 0
		for offset := 0; offset < count; offset += e.limit {
			if err := lim.Wait(ctx); err != nil {
				for remaining := offset; remaining < count; remaining += e.limit {
					e.tracker.Complete(stage)
				}
				return
			}

			started := time.Now()
			items, err := src.Fetch(ctx, offset, e.limit)
			if err == nil {
				err = page(ctx, items)
			}
			if err != nil {
				zap.L().Warn("page failed",
					zap.String("stage", stage.String()),
					zap.Int("offset", offset),
					zap.Error(err),
				)
			}
			if e.recorder != nil {
				var errMsg string
				if err != nil {
					errMsg = err.Error()
				}
				e.recorder.Record(ctx, BatchRecord{
					Stage:    stage,
					Index:    index,
					Size:     len(items),
					Err:      errMsg,
					Duration: time.Since(started),
				})
			}
			e.tracker.Complete(stage)
			index++
		}
	}()
	return nil
}
