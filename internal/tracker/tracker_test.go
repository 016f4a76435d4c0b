package tracker

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata-migrate/internal/bus"
	"github.com/sells-group/refdata-migrate/internal/model"
)

func newTestTracker(t *testing.T) (*Tracker, *atomic.Int64) {
	t.Helper()
	b := bus.New()
	var completions atomic.Int64
	b.Subscribe(bus.TopicStageComplete, func(bus.Event) {
		completions.Add(1)
	})
	return New(b), &completions
}

func TestTracker_CompletesAfterAllUnits(t *testing.T) {
	trk, completions := newTestTracker(t)

	trk.Start(model.StageLocations, 3)
	assert.Equal(t, int64(0), completions.Load())

	trk.Complete(model.StageLocations)
	trk.Complete(model.StageLocations)
	assert.Equal(t, int64(0), completions.Load(), "signal must not fire before the last unit")

	trk.Complete(model.StageLocations)
	assert.Equal(t, int64(1), completions.Load())
}

func TestTracker_ZeroUnitsCompletesImmediately(t *testing.T) {
	trk, completions := newTestTracker(t)

	trk.Start(model.StageUsers, 0)
	assert.Equal(t, int64(1), completions.Load())
}

func TestTracker_ConcurrentCompletionsFireOnce(t *testing.T) {
	trk, completions := newTestTracker(t)

	const units = 200
	trk.Start(model.StageOrganizations, units)

	var wg sync.WaitGroup
	for i := 0; i < units; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trk.Complete(model.StageOrganizations)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), completions.Load(), "exactly one signal under concurrent decrements")
	assert.Equal(t, int64(0), trk.Outstanding(model.StageOrganizations))
}

func TestTracker_StartTwicePanics(t *testing.T) {
	trk, _ := newTestTracker(t)
	trk.Start(model.StageLocations, 1)
	require.Panics(t, func() {
		trk.Start(model.StageLocations, 1)
	})
}

func TestTracker_CompleteUnstartedStageIsNoop(t *testing.T) {
	trk, completions := newTestTracker(t)
	trk.Complete(model.StageUserGroups)
	assert.Equal(t, int64(0), completions.Load())
}

func TestTracker_NegativeExpectedPanics(t *testing.T) {
	trk, _ := newTestTracker(t)
	require.Panics(t, func() {
		trk.Start(model.StageLocations, -1)
	})
}
