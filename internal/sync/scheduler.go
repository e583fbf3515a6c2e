package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"plant-sync-client/internal/logger"
	"plant-sync-client/internal/store"
)

// Scheduler drives auto-sync from the persisted settings. Reload re-arms
// it after a settings change.
type Scheduler struct {
	store store.Store
	orch  *Orchestrator
	cron  *cron.Cron
}

func NewScheduler(st store.Store, orch *Orchestrator) *Scheduler {
	return &Scheduler{
		store: st,
		orch:  orch,
		cron:  cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync settings: %w", err)
	}

	if err := s.arm(settings); err != nil {
		return err
	}
	s.cron.Start()

	if settings.SyncOnStartup {
		logger.Log.Info("Running startup sync")
		go s.triggerSync()
	}

	return nil
}

func (s *Scheduler) arm(settings *store.SyncSettings) error {
	if !settings.AutoSyncEnabled {
		logger.Log.Info("Auto-sync is disabled")
		return nil
	}

	interval := settings.SyncIntervalMinutes
	if interval < 1 {
		interval = 1
	}
	spec := fmt.Sprintf("@every %dm", interval)

	logger.Log.Info("Scheduling auto-sync", zap.String("interval", spec))

	if _, err := s.cron.AddFunc(spec, s.triggerSync); err != nil {
		return fmt.Errorf("failed to schedule auto-sync: %w", err)
	}
	return nil
}

// Reload rebuilds the schedule from current settings.
func (s *Scheduler) Reload(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync settings: %w", err)
	}

	for _, entry := range s.cron.Entries() {
		s.cron.Remove(entry.ID)
	}
	return s.arm(settings)
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	logger.Log.Info("Stopped auto-sync scheduler")
}

func (s *Scheduler) triggerSync() {
	if s.orch.IsSyncing() {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}

	if _, err := s.orch.SyncAll(context.Background()); err != nil {
		logger.Log.Error("Scheduled sync failed to start", zap.Error(err))
	}
}
