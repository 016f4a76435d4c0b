// Package tracker detects stage completion from many in-flight units of work
// without a central blocking wait.
package tracker

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/refdata-migrate/internal/bus"
	"github.com/sells-group/refdata-migrate/internal/model"
)

// Tracker keeps one outstanding-unit counter per stage. The decrement that
// observes the transition to zero is solely responsible for publishing the
// stage-complete signal, so the signal fires at most once per stage even when
// responses resolve concurrently.
//
// Counters count attempts resolved, not successes: a failed batch must still
// call Complete or the stage stalls forever.
type Tracker struct {
	mu       sync.Mutex
	counters map[model.Stage]*atomic.Int64
	bus      *bus.Bus
}

// New creates a tracker publishing completion signals on b.
func New(b *bus.Bus) *Tracker {
	return &Tracker{
		counters: make(map[model.Stage]*atomic.Int64),
		bus:      b,
	}
}

// Start initializes the stage's counter to expected units. A zero expectation
// means the stage has no work and completes immediately. Each stage has
// exactly one counter per run; calling Start twice for the same stage is a
// programming error and panics.
func (t *Tracker) Start(stage model.Stage, expected int64) {
	if expected < 0 {
		panic("tracker: negative expected units")
	}

	t.mu.Lock()
	if _, exists := t.counters[stage]; exists {
		t.mu.Unlock()
		panic("tracker: stage counter already started: " + stage.String())
	}
	c := &atomic.Int64{}
	c.Store(expected)
	t.counters[stage] = c
	t.mu.Unlock()

	zap.L().Info("stage started",
		zap.String("stage", stage.String()),
		zap.Int64("units", expected),
	)

	if expected == 0 {
		t.bus.StageComplete(stage)
	}
}

// Complete resolves one unit of work for the stage. The call that decrements
// the counter to exactly zero publishes the stage-complete signal.
func (t *Tracker) Complete(stage model.Stage) {
	t.mu.Lock()
	c, ok := t.counters[stage]
	t.mu.Unlock()
	if !ok {
		zap.L().Warn("tracker: complete for unstarted stage", zap.String("stage", stage.String()))
		return
	}

	switch remaining := c.Add(-1); {
	case remaining == 0:
		zap.L().Info("stage complete", zap.String("stage", stage.String()))
		t.bus.StageComplete(stage)
	case remaining < 0:
		// Guarded against by the single-start rule; log rather than fire twice.
		zap.L().Error("tracker: counter underflow",
			zap.String("stage", stage.String()),
			zap.Int64("count", remaining),
		)
	}
}

// Outstanding returns the stage's remaining unit count, or zero if the stage
// was never started.
func (t *Tracker) Outstanding(stage model.Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[stage]; ok {
		return c.Load()
	}
	return 0
}
