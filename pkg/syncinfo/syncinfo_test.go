package syncinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

func TestSyncManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncinfo.json")
	sm := NewSyncManager(path)

	info, err := sm.LoadSyncInfoFromFile()
	require.NoError(t, err)
	assert.Nil(t, info.LastPass)

	finished := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	require.NoError(t, sm.RecordPass(models.PassSummary{
		PassID: "p1", FinishedAt: finished, Processed: 2, Succeeded: 2,
	}))
	require.NoError(t, sm.RecordPass(models.PassSummary{
		PassID: "p2", FinishedAt: finished.Add(time.Minute), Processed: 2, Succeeded: 1, Retried: 1,
	}))

	// Загружаем SyncInfo из файла в новом менеджере
	loaded, err := NewSyncManager(path).LoadSyncInfoFromFile()
	require.NoError(t, err)
	require.NotNil(t, loaded.LastPass)
	assert.Equal(t, "p2", loaded.LastPass.PassID)
	assert.Equal(t, 2, loaded.Passes)
	require.NotNil(t, loaded.LastSuccess)
	assert.True(t, loaded.LastSuccess.Equal(finished), "last fully successful pass is kept")
}

func TestSyncManager_NoSuccessYet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncinfo.json")
	sm := NewSyncManager(path)
	require.NoError(t, sm.RecordPass(models.PassSummary{PassID: "p1", Processed: 1, Retried: 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lastSuccess")

	loaded, err := NewSyncManager(path).LoadSyncInfoFromFile()
	require.NoError(t, err)
	assert.Nil(t, loaded.LastSuccess)
}

func TestSyncManager_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncinfo.json")
	require.NoError(t, os.WriteFile(path, []byte("2026-10-15T09:30:00Z"), 0o644))

	_, err := NewSyncManager(path).LoadSyncInfoFromFile()
	assert.Error(t, err)
}
