// Package store persists jobs, phase records, reports and dead-lettered
// jobs in SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ReportInfo is a stored report without its metrics.
type ReportInfo struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	PDFPath   string        `json:"pdf_path" yaml:"pdf_path"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Summary   model.Summary `json:"summary" yaml:"summary"`
}

// Store defines the persistence interface for audit jobs and reports.
type Store interface {
	// Jobs
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Phases
	CreatePhase(ctx context.Context, ownerID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, ownerID string) ([]model.RunPhase, error)

	// Reports
	SaveReport(ctx context.Context, r *model.Report) error
	GetReport(ctx context.Context, runID string) (*model.Report, error)
	ListReports(ctx context.Context, limit int) ([]ReportInfo, error)

	// Dead-letter queue
	EnqueueDLQ(ctx context.Context, entry *resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// New opens the store selected by cfg.Driver. It returns nil, nil for the
// "none" driver.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
