package syncer

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/mirrorkit/notionmirror/internal/settings"
)

// Scheduler triggers background syncs on a cron expression stored in the
// notion module settings. An empty expression disables scheduling.
type Scheduler struct {
	manager  *Manager
	settings *settings.Store
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewScheduler(m *Manager, cfg *settings.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		manager:  m,
		settings: cfg,
		logger:   logger,
	}
}

// Start reads the configured schedule and begins firing syncs. It returns
// false when no schedule is configured.
func (s *Scheduler) Start() (bool, error) {
	expr, err := s.settings.Get(settings.ModuleNotion, settings.KeySyncSchedule, "")
	if err != nil {
		return false, err
	}
	if expr == "" {
		return false, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(expr, func() {
		state, started := s.manager.Start(false)
		if started {
			s.logger.Info("scheduled sync started", "mode", state.Mode)
		} else {
			s.logger.Info("scheduled sync skipped, job already running")
		}
	}); err != nil {
		return false, err
	}
	c.Start()
	s.cron = c
	s.logger.Info("sync scheduler started", "schedule", expr)
	return true, nil
}

// Stop halts the scheduler and waits for any firing entry to return.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}
