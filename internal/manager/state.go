package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/loadstone/internal/module"
)

// ModuleState summarizes one module's position in the load lifecycle.
type ModuleState string

const (
	// ModuleStateKnown means the module is configured but untouched.
	ModuleStateKnown ModuleState = "known"
	// ModuleStateQueued means the module is waiting behind the in-flight
	// batch.
	ModuleStateQueued ModuleState = "queued"
	// ModuleStateLoading means the module is part of the in-flight batch.
	ModuleStateLoading ModuleState = "loading"
	// ModuleStateLoaded means the module's code has executed.
	ModuleStateLoaded ModuleState = "loaded"
	// ModuleStateFailed means the module's most recent request ended in a
	// terminal failure. A later request may still succeed.
	ModuleStateFailed ModuleState = "failed"
)

// ModuleStatus reports one module's state for dashboards and post-run
// inspection.
type ModuleStatus struct {
	ID           string             `json:"id"`
	State        ModuleState        `json:"state"`
	Dependencies []string           `json:"dependencies,omitempty"`
	Failure      module.FailureKind `json:"failure,omitempty"`
}

// Snapshot is a point-in-time view of the manager.
type Snapshot struct {
	TakenAt    time.Time      `json:"taken_at"`
	Active     bool           `json:"active"`
	UserActive bool           `json:"user_active"`
	BatchMode  bool           `json:"batch_mode"`
	Queue      []string       `json:"queue,omitempty"`
	Modules    []ModuleStatus `json:"modules"`
}

// Snapshot captures the manager's current view of every known module,
// sorted by id.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		TakenAt:    time.Now(),
		Active:     len(m.loadingIDs) > 0,
		UserActive: len(m.userInitiated) > 0,
		BatchMode:  m.batchMode,
		Queue:      append([]string{}, m.queue...),
	}
	for _, id := range m.registry.IDs() {
		record, ok := m.registry.Record(id)
		if !ok {
			continue
		}
		status := ModuleStatus{
			ID:           id,
			State:        ModuleStateKnown,
			Dependencies: record.DependencyIDs(),
		}
		switch {
		case record.Loaded():
			status.State = ModuleStateLoaded
		case containsString(m.loadingIDs, id):
			status.State = ModuleStateLoading
		case containsString(m.queue, id):
			status.State = ModuleStateQueued
		default:
			if kind, failed := m.failures[id]; failed {
				status.State = ModuleStateFailed
				status.Failure = kind
			}
		}
		snap.Modules = append(snap.Modules, status)
	}
	return snap
}

// WriteFile persists the snapshot as indented JSON, creating parent
// directories as needed.
func (s Snapshot) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("manager: encode snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("manager: ensure snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("manager: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotFile loads a snapshot produced by WriteFile.
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("manager: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("manager: parse snapshot %s: %w", path, err)
	}
	return snap, nil
}
