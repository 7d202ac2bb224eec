package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/db"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_job":        `SELECT data FROM jobs WHERE id = $1`,
	"insert_phase":   `INSERT INTO job_phases (id, owner_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase": `UPDATE job_phases SET status = $1, result = $2 WHERE id = $3`,
	"get_report":     `SELECT data FROM reports WHERE run_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'QUEUED',
	pdf_path     TEXT NOT NULL,
	step         TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	data         JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	run_id                TEXT PRIMARY KEY,
	pdf_path              TEXT NOT NULL,
	timestamp             TIMESTAMPTZ NOT NULL,
	total                 INTEGER NOT NULL DEFAULT 0,
	verified              INTEGER NOT NULL DEFAULT 0,
	recovered             INTEGER NOT NULL DEFAULT 0,
	flagged               INTEGER NOT NULL DEFAULT 0,
	intervention_required INTEGER NOT NULL DEFAULT 0,
	data                  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS report_metrics (
	run_id                TEXT NOT NULL REFERENCES reports(run_id) ON DELETE CASCADE,
	position              INTEGER NOT NULL,
	metric_id             TEXT NOT NULL,
	value_raw             TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT '',
	flagged               BOOLEAN NOT NULL DEFAULT false,
	recovery_used         BOOLEAN NOT NULL DEFAULT false,
	intervention_required BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id         TEXT NOT NULL,
	pdf_path       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_step    TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_submitted_at ON jobs(submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_phases_owner_id ON job_phases(owner_id);
CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_report_metrics_flagged ON report_metrics(flagged) WHERE flagged;
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, pdf_path, step, error, data, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, step = EXCLUDED.step, error = EXCLUDED.error,
		   data = EXCLUDED.data, updated_at = now()
		 `+jobUpsertGuard,
		job.ID, string(job.Status), job.PDFPath, job.Step, job.Error, data, job.SubmittedAt,
	)
	return eris.Wrapf(err, "postgres: save job %s", job.ID)
}

// GetJob returns nil, nil when the job is not stored.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM jobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return decodeJob(data)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT data FROM jobs WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY submitted_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, ownerID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_phases (id, owner_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, ownerID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for %s", ownerID)
	}

	return &model.RunPhase{
		ID:        id,
		JobID:     ownerID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE job_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, ownerID string) ([]model.RunPhase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, status, result, started_at FROM job_phases
		 WHERE owner_id = $1 ORDER BY started_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list phases")
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var status string
		var resultJSON []byte
		if err := rows.Scan(&p.ID, &p.JobID, &p.Name, &status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		p.Status = model.PhaseStatus(status)
		if resultJSON != nil {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal(resultJSON, p.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

func (s *PostgresStore) SaveReport(ctx context.Context, r *model.Report) error {
	data, err := encodeReport(r)
	if err != nil {
		return err
	}
	sum := r.Summarize()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (run_id, pdf_path, timestamp, total, verified, recovered, flagged, intervention_required, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id) DO UPDATE SET
		   pdf_path = EXCLUDED.pdf_path, timestamp = EXCLUDED.timestamp,
		   total = EXCLUDED.total, verified = EXCLUDED.verified, recovered = EXCLUDED.recovered,
		   flagged = EXCLUDED.flagged, intervention_required = EXCLUDED.intervention_required,
		   data = EXCLUDED.data`,
		r.RunID, r.PDFPath, r.Timestamp, sum.Total, sum.Verified, sum.Recovered,
		sum.Flagged, sum.InterventionRequired, data,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save report %s", r.RunID)
	}

	_, err = db.ReplaceRows(ctx, s.pool, db.ReplaceConfig{
		Table:   "report_metrics",
		KeyCol:  "run_id",
		Key:     r.RunID,
		Columns: metricColumns,
	}, metricRows(r))
	return eris.Wrapf(err, "postgres: save metrics for %s", r.RunID)
}

// GetReport returns nil, nil when the report is not stored.
func (s *PostgresStore) GetReport(ctx context.Context, runID string) (*model.Report, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM reports WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", runID)
	}
	return decodeReport(data)
}

func (s *PostgresStore) ListReports(ctx context.Context, limit int) ([]ReportInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, pdf_path, timestamp, total, verified, recovered, flagged, intervention_required
		 FROM reports ORDER BY timestamp DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []ReportInfo
	for rows.Next() {
		var ri ReportInfo
		if err := rows.Scan(&ri.RunID, &ri.PDFPath, &ri.Timestamp, &ri.Summary.Total, &ri.Summary.Verified,
			&ri.Summary.Recovered, &ri.Summary.Flagged, &ri.Summary.InterventionRequired); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		out = append(out, ri)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	if err := prepareDLQ(entry); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, job_id, pdf_path, error, error_type, failed_step, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   job_id = $2, error = $4, error_type = $5, failed_step = $6, retry_count = $7, last_failed_at = $10`,
		entry.ID, entry.JobID, entry.PDFPath, entry.Error, entry.ErrorType,
		entry.FailedStep, entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, job_id, pdf_path, error, error_type, failed_step, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY last_failed_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.PDFPath, &e.Error, &e.ErrorType, &e.FailedStep,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "postgres: remove dlq")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}
