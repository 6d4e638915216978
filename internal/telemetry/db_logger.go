package telemetry

import (
	"bioreactor-controller/internal/database"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
)

// DBRecorder stores every sample in the telemetry database.
type DBRecorder struct {
	db *database.DB
}

// NewDBRecorder prunes and checkpoints db once at startup and returns a recorder for it.
func NewDBRecorder(db *database.DB, retentionDays int) *DBRecorder {
	if retentionDays > 0 {
		if n, err := db.Prune(retentionDays); err != nil {
			logger.Error("Failed to prune old telemetry: %v", err)
		} else if n > 0 {
			logger.Info("Pruned %d old telemetry rows.", n)
		}
	}
	// Always checkpoint WAL at startup to consolidate data and keep file size small
	if err := db.Checkpoint(); err != nil {
		logger.Error("Failed to checkpoint WAL at startup: %v", err)
	}
	return &DBRecorder{db: db}
}

// Record inserts s.
func (r *DBRecorder) Record(s model.Sample) {
	if err := r.db.Insert(database.RecordFromSample(s)); err != nil {
		logger.Error("Failed to insert telemetry: %v", err)
	}
}
