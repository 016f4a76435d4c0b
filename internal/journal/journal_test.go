package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata-migrate/internal/engine"
	"github.com/sells-group/refdata-migrate/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() }) //nolint:errcheck
	return j
}

func TestJournal_RecordAndFailures(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, engine.BatchRecord{
		Stage: model.StageLocations, Index: 0, Size: 50,
		Status: 201, Duration: 120 * time.Millisecond,
	})
	j.Record(ctx, engine.BatchRecord{
		Stage: model.StageLocations, Index: 1, Size: 50,
		Status: 500, Duration: 80 * time.Millisecond,
	})
	j.Record(ctx, engine.BatchRecord{
		Stage: model.StageUsers, Index: 0, Size: 10,
		Err: "gateway: credential missing or expired", Duration: time.Millisecond,
	})

	failures, err := j.Failures(ctx, j.RunID())
	require.NoError(t, err)
	require.Len(t, failures, 2, "the 2xx batch must not appear")

	assert.Equal(t, "locations", failures[0].Stage)
	assert.Equal(t, 500, failures[0].Status)
	assert.Equal(t, "users", failures[1].Stage)
	assert.Contains(t, failures[1].Err, "credential")
	assert.Equal(t, 80*time.Millisecond, failures[0].Duration)
}

func TestJournal_FailuresFiltersByRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	ctx := context.Background()

	first, err := Open(path)
	require.NoError(t, err)
	first.Record(ctx, engine.BatchRecord{Stage: model.StageLocations, Status: 500})
	firstRun := first.RunID()
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck
	second.Record(ctx, engine.BatchRecord{Stage: model.StageUsers, Status: 503})

	require.NotEqual(t, firstRun, second.RunID())

	scoped, err := second.Failures(ctx, second.RunID())
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "users", scoped[0].Stage)

	all, err := second.Failures(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJournal_PulledPagesCarryNoStatus(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// A pulled page records only its error column; success leaves both
	// status and error zero-valued.
	j.Record(ctx, engine.BatchRecord{Stage: model.StageLocations, Index: 0, Size: 50})
	j.Record(ctx, engine.BatchRecord{Stage: model.StageLocations, Index: 1, Size: 50,
		Err: "pipeline: location page post returned 500"})

	failures, err := j.Failures(ctx, j.RunID())
	require.NoError(t, err)
	require.Len(t, failures, 1, "a successful page must not be reported as failed")
	assert.Equal(t, 1, failures[0].Index)
	assert.Contains(t, failures[0].Err, "500")
}

func TestJournal_NoFailures(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, engine.BatchRecord{Stage: model.StageLocations, Status: 200})

	failures, err := j.Failures(ctx, j.RunID())
	require.NoError(t, err)
	assert.Empty(t, failures)
}
