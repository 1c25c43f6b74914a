package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	run, err := l.BeginRun(ctx, map[string]any{"frequency": "daily"})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	info, err := l.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, info.Status)

	require.NoError(t, run.RecordField(ctx, "A", "69", "committed", ""))
	require.NoError(t, run.RecordField(ctx, "B", "3", "discarded", "request ET: abandoned"))
	require.NoError(t, run.RecordField(ctx, "C", "3", "discarded", "field not found"))
	require.NoError(t, run.Finish(ctx, StatusCompleted, 2))

	info, err = l.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 2, info.Failed)

	failed, err := l.FieldsWithOutcome(ctx, run.ID, "discarded")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, failed)
}

func TestLedger_UnknownRun(t *testing.T) {
	l := openTest(t)

	_, err := l.FieldsWithOutcome(context.Background(), "missing", "discarded")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLedger_Runs(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	first, err := l.BeginRun(ctx, nil)
	require.NoError(t, err)
	second, err := l.BeginRun(ctx, nil)
	require.NoError(t, err)

	runs, err := l.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{runs[0].ID, runs[1].ID})
}

func TestLedger_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	require.NoError(t, err)
	run, err := l.BeginRun(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, run.RecordField(ctx, "A", "69", "discarded", "timeout"))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	failed, err := l.FieldsWithOutcome(ctx, run.ID, "discarded")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, failed)
}
