package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listings_sync/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestSQLite(t)

	run := &models.SyncRun{SyncType: models.SyncTypeIDX, StartedAt: time.Now(), Status: models.RunStatusRunning, Reset: true}
	id, err := s.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.PropertiesSynced = 42
	run.MediaSynced = 300
	run.CursorTimestamp = "2024-03-01T10:00:00Z"
	run.CursorKey = "X123"
	require.NoError(t, s.UpdateRun(run))

	require.NoError(t, s.Log(&id, models.LogLevelInfo, "done", models.SyncTypeIDX))

	runs, err := s.ListRecentRuns(models.SyncTypeIDX, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.True(t, got.Reset)
	assert.Equal(t, 42, got.PropertiesSynced)
	assert.Equal(t, 300, got.MediaSynced)
	assert.Equal(t, "X123", got.CursorKey)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.ErrorMessage)

	logs, err := s.GetRunLogs(id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "done", logs[0].Message)
	assert.Equal(t, models.SyncTypeIDX, logs[0].SyncType)

	none, err := s.ListRecentRuns(models.SyncTypeVOW, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ListRecentRuns("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkInterruptedRuns(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.CreateRun(&models.SyncRun{SyncType: models.SyncTypeVOW, StartedAt: time.Now(), Status: models.RunStatusRunning})
	require.NoError(t, err)

	n, err := s.MarkInterruptedRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	runs, err := s.ListRecentRuns(models.SyncTypeVOW, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
	assert.Equal(t, "interrupted", *runs[0].ErrorMessage)
}

func TestCommandQueue(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.EnqueueCommand(models.CmdSyncType, &models.CommandParams{SyncType: "vow", Limit: 50})
	require.NoError(t, err)
	_, err = s.EnqueueCommand(models.CmdPause, nil)
	require.NoError(t, err)

	cmds, err := s.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, models.CmdSyncType, cmds[0].Command)

	params, err := ParseCommandParams(&cmds[0])
	require.NoError(t, err)
	assert.Equal(t, "vow", params.SyncType)
	assert.Equal(t, 50, params.Limit)

	params, err = ParseCommandParams(&cmds[1])
	require.NoError(t, err)
	assert.Equal(t, models.CommandParams{}, *params)

	require.NoError(t, s.MarkCommandProcessed(cmds[0].ID))
	cmds, err = s.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CmdPause, cmds[0].Command)
}

func TestParseCommandParamsRejectsGarbage(t *testing.T) {
	_, err := ParseCommandParams(&models.Command{ID: 7, Params: []byte("{nope")})
	assert.ErrorContains(t, err, "command 7")
}
