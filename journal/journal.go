// Package journal persists per-source run outcomes to a local SQLite
// database, so that operators can audit which archives processed cleanly
// and which failed, and where.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/pollenflow/config"
)

// RunRecord is one journaled source run.
type RunRecord struct {
	ID    uint   `gorm:"primaryKey"`
	RunID string `gorm:"size:36;uniqueIndex"`

	Source string `gorm:"index"`
	State  string `gorm:"index"`

	// Failure attribution, empty for clean runs.
	FailureStage string
	FailureCode  string
	FailureText  string

	RecordsExtracted int
	RecordsFiltered  int
	BatchesProcessed int
	RowsExported     int

	StartedAt  time.Time
	FinishedAt *time.Time
}

// Outcome summarizes a finished run for the journal.
type Outcome struct {
	State            string
	FailureStage     string
	FailureCode      string
	FailureText      string
	RecordsExtracted int
	RecordsFiltered  int
	BatchesProcessed int
	RowsExported     int
}

// Journal stores run records.
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the journal database and migrates its
// schema. Returns nil when journaling is disabled.
func Open(cfg *config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}

	logger.Info("run journal opened", zap.String("path", cfg.Path))
	return &Journal{db: db, logger: logger.With(zap.String("component", "journal"))}, nil
}

// Begin records the start of a run. Safe on a nil Journal.
func (j *Journal) Begin(ctx context.Context, runID, source string) error {
	if j == nil {
		return nil
	}
	rec := &RunRecord{
		RunID:     runID,
		Source:    source,
		State:     "running",
		StartedAt: time.Now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("journal run %s: %w", runID, err)
	}
	return nil
}

// Finish records a run's terminal state and counters. Safe on a nil
// Journal.
func (j *Journal) Finish(ctx context.Context, runID string, out Outcome) error {
	if j == nil {
		return nil
	}
	now := time.Now().UTC()
	updates := map[string]any{
		"state":             out.State,
		"failure_stage":     out.FailureStage,
		"failure_code":      out.FailureCode,
		"failure_text":      out.FailureText,
		"records_extracted": out.RecordsExtracted,
		"records_filtered":  out.RecordsFiltered,
		"batches_processed": out.BatchesProcessed,
		"rows_exported":     out.RowsExported,
		"finished_at":       &now,
	}
	tx := j.db.WithContext(ctx).Model(&RunRecord{}).Where("run_id = ?", runID).Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("journal run %s: %w", runID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("journal run %s: not found", runID)
	}
	return nil
}

// Runs returns the journaled runs for one source, most recent first. An
// empty source returns all runs.
func (j *Journal) Runs(ctx context.Context, source string) ([]RunRecord, error) {
	if j == nil {
		return nil, nil
	}
	q := j.db.WithContext(ctx).Order("started_at desc")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list journal runs: %w", err)
	}
	return recs, nil
}

// Close releases the underlying database handle. Safe on a nil Journal.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
