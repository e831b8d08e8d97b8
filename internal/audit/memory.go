package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps the log in process memory. Used by tests and dry runs.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []Entry
	backups []BackupRecord

	// AppendErr, when set, is returned by Append and AppendBackup.
	AppendErr error
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryRepository) AppendBackup(_ context.Context, r BackupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.backups = append(m.backups, r)
	return nil
}

func (m *MemoryRepository) Entries(_ context.Context, runID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryRepository) Backups(_ context.Context, runID string) ([]BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackupRecord
	for _, r := range m.backups {
		if runID == "" || r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryRepository) LatestBackup(_ context.Context, schemaName, table string) (*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.backups) - 1; i >= 0; i-- {
		r := m.backups[i]
		if r.OriginalSchema == schemaName && r.OriginalTable == table && r.Status == StatusSuccess {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}
