// Package syncinfo keeps the outcome of the last reconciliation pass.
package syncinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wurt83ow/checkin-client/pkg/models"
)

// SyncInfo represents data about the last synchronization.
type SyncInfo struct {
	LastPass    *models.PassSummary `json:"lastPass,omitempty"`
	LastSuccess *time.Time          `json:"lastSuccess,omitempty"`
	Passes      int                 `json:"passes"`
}

// SyncManager manages access to and updates of synchronization data.
type SyncManager struct {
	fileMutex sync.Mutex       // serializes file access
	syncData  *MutexedSyncInfo // Synchronization data
	filename  string           // File name where synchronization data is stored
}

// MutexedSyncInfo wraps SyncInfo with a mutex for safe access from different threads.
type MutexedSyncInfo struct {
	sync.RWMutex
	SyncInfo SyncInfo
}

// NewSyncManager creates a SyncManager backed by fileName. The file is
// created on the first save.
func NewSyncManager(fileName string) *SyncManager {
	return &SyncManager{
		syncData: &MutexedSyncInfo{},
		filename: fileName,
	}
}

// GetSyncInfo returns the current synchronization data.
func (sm *SyncManager) GetSyncInfo() SyncInfo {
	sm.syncData.RLock()
	defer sm.syncData.RUnlock()
	return sm.syncData.SyncInfo
}

// RecordPass folds a finished pass into the sync info and saves it.
func (sm *SyncManager) RecordPass(summary models.PassSummary) error {
	sm.syncData.Lock()
	info := &sm.syncData.SyncInfo
	info.LastPass = &summary
	info.Passes++
	if summary.Processed > 0 && summary.Succeeded == summary.Processed {
		finished := summary.FinishedAt
		info.LastSuccess = &finished
	}
	sm.syncData.Unlock()

	return sm.SaveSyncInfoToFile()
}

// SaveSyncInfoToFile writes the sync info through a temporary file so a
// crash never leaves a half-written file behind.
func (sm *SyncManager) SaveSyncInfoToFile() error {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	data, err := json.MarshalIndent(sm.GetSyncInfo(), "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(sm.filename), ".syncinfo-*")
	if err != nil {
		return fmt.Errorf("save sync info: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save sync info: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save sync info: %w", err)
	}
	return os.Rename(tmp.Name(), sm.filename)
}

// LoadSyncInfoFromFile loads synchronization data from the file and makes
// it current. A missing file leaves the zero SyncInfo in place.
func (sm *SyncManager) LoadSyncInfoFromFile() (SyncInfo, error) {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	fileContent, err := os.ReadFile(sm.filename)
	if errors.Is(err, os.ErrNotExist) {
		return SyncInfo{}, nil
	}
	if err != nil {
		return SyncInfo{}, err
	}

	var info SyncInfo
	if err := json.Unmarshal(fileContent, &info); err != nil {
		return SyncInfo{}, fmt.Errorf("parse sync info: %w", err)
	}

	sm.syncData.Lock()
	sm.syncData.SyncInfo = info
	sm.syncData.Unlock()
	return info, nil
}
