package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata-migrate/internal/bus"
	"github.com/sells-group/refdata-migrate/internal/gateway"
	"github.com/sells-group/refdata-migrate/internal/model"
	"github.com/sells-group/refdata-migrate/internal/tracker"
)

func newTestEngine(t *testing.T, limit int, rec Recorder) (*Engine, <-chan model.Stage) {
	t.Helper()
	b := bus.New()
	complete := make(chan model.Stage, 8)
	b.Subscribe(bus.TopicStageComplete, func(ev bus.Event) {
		complete <- ev.Stage
	})
	return New(tracker.New(b), rec, 0, limit), complete
}

func waitComplete(t *testing.T, ch <-chan model.Stage, want model.Stage) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s completion", want)
	}
}

type memRecorder struct {
	mu      sync.Mutex
	records []BatchRecord
}

func (m *memRecorder) Record(_ context.Context, rec BatchRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *memRecorder) all() []BatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchRecord(nil), m.records...)
}

func TestChunk_CoversAllItemsInOrder(t *testing.T) {
	cases := []struct {
		n, size, chunks int
	}{
		{0, 5, 0},
		{1, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{10, 3, 4},
		{50, 50, 1},
	}
	for _, tc := range cases {
		items := make([]int, tc.n)
		for i := range items {
			items[i] = i
		}

		chunks := Chunk(items, tc.size)
		assert.Len(t, chunks, tc.chunks, "n=%d size=%d", tc.n, tc.size)

		flat := make([]int, 0, tc.n)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), tc.size)
			flat = append(flat, c...)
		}
		assert.Equal(t, items, flat, "n=%d size=%d", tc.n, tc.size)
	}
}

func TestChunk_ZeroSize(t *testing.T) {
	assert.Nil(t, Chunk([]int{1, 2, 3}, 0))
}

func TestPush_DispatchesChunksInOrder(t *testing.T) {
	e, complete := newTestEngine(t, 2, nil)

	items := []string{"a", "b", "c", "d", "e"}
	var mu sync.Mutex
	var got [][]string

	Push(context.Background(), e, model.StageLocations, items,
		func(_ context.Context, chunk []string) (*gateway.Response, error) {
			mu.Lock()
			got = append(got, chunk)
			mu.Unlock()
			return &gateway.Response{StatusCode: 200}, nil
		})

	waitComplete(t, complete, model.StageLocations)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b"}, got[0])
	assert.Equal(t, []string{"c", "d"}, got[1])
	assert.Equal(t, []string{"e"}, got[2])
}

func TestPush_EmptyListShortCircuits(t *testing.T) {
	e, complete := newTestEngine(t, 10, nil)

	Push(context.Background(), e, model.StageOrganizations, []string(nil),
		func(_ context.Context, _ []string) (*gateway.Response, error) {
			t.Error("action must not run for an empty list")
			return nil, nil
		})

	waitComplete(t, complete, model.StageOrganizations)
}

func TestPush_FailedBatchStillResolvesStage(t *testing.T) {
	rec := &memRecorder{}
	e, complete := newTestEngine(t, 1, rec)

	Push(context.Background(), e, model.StageUsers, []int{1, 2},
		func(_ context.Context, chunk []int) (*gateway.Response, error) {
			if chunk[0] == 1 {
				return nil, eris.New("boom")
			}
			return &gateway.Response{StatusCode: 201}, nil
		})

	waitComplete(t, complete, model.StageUsers)

	records := rec.all()
	require.Len(t, records, 2)
	assert.Equal(t, "boom", records[0].Err)
	assert.Equal(t, 201, records[1].Status)
}

type fakeSource struct {
	count    int
	countErr error
	pages    [][]int
}

func (f *fakeSource) Count(_ context.Context) (int, error) {
	return f.count, f.countErr
}

func (f *fakeSource) Fetch(_ context.Context, offset, limit int) ([]int, error) {
	return f.pages[offset/limit], nil
}

func TestPull_IssuesCeilPages(t *testing.T) {
	e, complete := newTestEngine(t, 2, nil)

	src := &fakeSource{count: 5, pages: [][]int{{1, 2}, {3, 4}, {5}}}
	var mu sync.Mutex
	var got [][]int

	err := Pull(context.Background(), e, model.StageLocations, src,
		func(_ context.Context, items []int) error {
			mu.Lock()
			got = append(got, items)
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	waitComplete(t, complete, model.StageLocations)

	require.Len(t, got, 3, "ceil(5/2) pages")
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)
}

func TestPull_ZeroCountShortCircuits(t *testing.T) {
	e, complete := newTestEngine(t, 10, nil)

	err := Pull(context.Background(), e, model.StageLocations, &fakeSource{count: 0},
		func(_ context.Context, _ []int) error {
			t.Error("page callback must not run for zero count")
			return nil
		})
	require.NoError(t, err)

	waitComplete(t, complete, model.StageLocations)
}

func TestPull_CountErrorIsAcquisitionFailure(t *testing.T) {
	e, _ := newTestEngine(t, 10, nil)

	wantErr := eris.New("source down")
	err := Pull(context.Background(), e, model.StageLocations, &fakeSource{countErr: wantErr},
		func(_ context.Context, _ []int) error { return nil })
	require.ErrorIs(t, err, wantErr)
}

func TestPush_IntervalPacesDispatches(t *testing.T) {
	b := bus.New()
	complete := make(chan model.Stage, 1)
	b.Subscribe(bus.TopicStageComplete, func(ev bus.Event) { complete <- ev.Stage })

	interval := 30 * time.Millisecond
	e := New(tracker.New(b), nil, interval, 1)

	var mu sync.Mutex
	var stamps []time.Time
	Push(context.Background(), e, model.StageLocations, []int{1, 2, 3},
		func(_ context.Context, _ []int) (*gateway.Response, error) {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			return &gateway.Response{StatusCode: 200}, nil
		})

	waitComplete(t, complete, model.StageLocations)

	require.Len(t, stamps, 3)
	// The interval is a lower bound between successive dispatches.
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "gap %d", i)
	}
}
