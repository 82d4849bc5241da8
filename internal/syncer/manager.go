package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mirrorkit/notionmirror/internal/settings"
)

// Job status values.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// JobState is a point-in-time snapshot of the background sync job.
type JobState struct {
	Status     string  `json:"status"`
	Mode       string  `json:"mode,omitempty"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Error      string  `json:"error,omitempty"`
	Result     *Result `json:"result,omitempty"`
	StartedAt  string  `json:"started_at,omitempty"`
	FinishedAt string  `json:"finished_at,omitempty"`
}

// Manager runs at most one sync at a time. A Start call while a run is in
// flight is a no-op that returns the current state, so callers can poll
// Start/Status without ever stacking jobs.
type Manager struct {
	syncer   *Syncer
	settings *settings.Store
	logger   *slog.Logger

	mu    sync.Mutex
	state JobState
}

func NewManager(s *Syncer, cfg *settings.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		syncer:   s,
		settings: cfg,
		logger:   logger,
		state:    JobState{Status: StatusIdle},
	}
}

// Start launches a background sync unless one is already running, and
// returns a snapshot of the job state either way. The second return value
// reports whether this call actually started a run.
func (m *Manager) Start(forceFull bool) (JobState, bool) {
	mode := "full"
	if !forceFull {
		mode = m.configuredMode()
	}

	m.mu.Lock()
	if m.state.Status == StatusRunning {
		snapshot := m.state
		m.mu.Unlock()
		return snapshot, false
	}
	m.state = JobState{
		Status:    StatusRunning,
		Mode:      mode,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	snapshot := m.state
	m.mu.Unlock()

	go m.run(mode)
	return snapshot, true
}

// Status returns a snapshot of the current job state.
func (m *Manager) Status() JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) configuredMode() string {
	mode, err := m.settings.Get(settings.ModuleNotion, settings.KeySyncMode, "incremental")
	if err != nil {
		m.logger.Warn("failed to read sync mode setting", "error", err)
		return "incremental"
	}
	return mode
}

func (m *Manager) run(mode string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sync job panicked", "panic", r)
			m.mu.Lock()
			m.state.Status = StatusError
			m.state.Error = fmt.Sprintf("panic: %v", r)
			m.state.FinishedAt = time.Now().UTC().Format(time.RFC3339)
			m.mu.Unlock()
		}
	}()

	result := m.syncer.Run(context.Background(), mode, func(processed, total int) {
		m.mu.Lock()
		m.state.Processed = processed
		m.state.Total = total
		m.mu.Unlock()
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Result = &result
	m.state.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	if result.OK {
		m.state.Status = StatusCompleted
	} else {
		m.state.Status = StatusError
		m.state.Error = result.Error
	}
}
