package telemetry

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"bioreactor-controller/internal/database"
	"bioreactor-controller/internal/logger"
)

// Maintenance prunes the CSV logs and the database on a cron schedule.
type Maintenance struct {
	cron          *cron.Cron
	logsDir       string
	db            *database.DB // nil when the database is disabled
	retentionDays int
}

// StartMaintenance schedules the cleanup job with a standard cron spec
// ("@daily", "0 12 * * *", ...) and starts the scheduler.
func StartMaintenance(spec, logsDir string, db *database.DB, retentionDays int) (*Maintenance, error) {
	m := &Maintenance{
		cron:          cron.New(),
		logsDir:       logsDir,
		db:            db,
		retentionDays: retentionDays,
	}
	if _, err := m.cron.AddFunc(spec, m.Run); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	m.cron.Start()
	logger.Info("Telemetry maintenance scheduled: %s", spec)
	return m, nil
}

// Run performs one cleanup pass.
func (m *Maintenance) Run() {
	logger.Info("Running scheduled telemetry cleanup...")
	PruneOldFiles(m.logsDir, m.retentionDays)
	if m.db == nil {
		return
	}
	if n, err := m.db.Prune(m.retentionDays); err != nil {
		logger.Error("Failed to prune old telemetry: %v", err)
	} else {
		logger.Info("Daily database cleanup completed (%d rows removed).", n)
	}
	// Always checkpoint to keep WAL size under control
	if err := m.db.Checkpoint(); err != nil {
		logger.Error("Failed to perform daily WAL checkpoint: %v", err)
	}
}

// Stop stops the scheduler and waits for a running job.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}
