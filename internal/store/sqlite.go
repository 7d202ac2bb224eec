package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'QUEUED',
	pdf_path     TEXT NOT NULL,
	step         TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	data         TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_phases (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reports (
	run_id                TEXT PRIMARY KEY,
	pdf_path              TEXT NOT NULL,
	timestamp             DATETIME NOT NULL,
	total                 INTEGER NOT NULL DEFAULT 0,
	verified              INTEGER NOT NULL DEFAULT 0,
	recovered             INTEGER NOT NULL DEFAULT 0,
	flagged               INTEGER NOT NULL DEFAULT 0,
	intervention_required INTEGER NOT NULL DEFAULT 0,
	data                  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS report_metrics (
	run_id                TEXT NOT NULL REFERENCES reports(run_id) ON DELETE CASCADE,
	position              INTEGER NOT NULL,
	metric_id             TEXT NOT NULL,
	value_raw             TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT '',
	flagged               BOOLEAN NOT NULL DEFAULT 0,
	recovery_used         BOOLEAN NOT NULL DEFAULT 0,
	intervention_required BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	pdf_path       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_step    TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_submitted_at ON jobs(submitted_at);
CREATE INDEX IF NOT EXISTS idx_job_phases_owner_id ON job_phases(owner_id);
CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, pdf_path, step, error, data, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status, step = excluded.step, error = excluded.error,
		   data = excluded.data, updated_at = excluded.updated_at
		 `+jobUpsertGuard,
		job.ID, string(job.Status), job.PDFPath, job.Step, job.Error, string(data),
		job.SubmittedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save job %s", job.ID)
}

// GetJob returns nil, nil when the job is not stored.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return decodeJob([]byte(data))
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT data FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY submitted_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		job, err := decodeJob([]byte(data))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, ownerID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_phases (id, owner_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for %s", ownerID)
	}

	return &model.RunPhase{
		ID:        id,
		JobID:     ownerID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// ListPhases returns the phases recorded for ownerID in start order.
func (s *SQLiteStore) ListPhases(ctx context.Context, ownerID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, status, result, started_at FROM job_phases
		 WHERE owner_id = ? ORDER BY started_at ASC, rowid ASC`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list phases")
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.JobID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r *model.Report) error {
	data, err := encodeReport(r)
	if err != nil {
		return err
	}
	sum := r.Summarize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin report tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (run_id, pdf_path, timestamp, total, verified, recovered, flagged, intervention_required, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		   pdf_path = excluded.pdf_path, timestamp = excluded.timestamp,
		   total = excluded.total, verified = excluded.verified, recovered = excluded.recovered,
		   flagged = excluded.flagged, intervention_required = excluded.intervention_required,
		   data = excluded.data`,
		r.RunID, r.PDFPath, r.Timestamp.UTC(), sum.Total, sum.Verified, sum.Recovered,
		sum.Flagged, sum.InterventionRequired, string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save report %s", r.RunID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_metrics WHERE run_id = ?`, r.RunID); err != nil {
		return eris.Wrapf(err, "sqlite: clear metrics for %s", r.RunID)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO report_metrics (`+joinColumns(metricColumns)+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare metric insert")
	}
	defer stmt.Close()
	for _, row := range metricRows(r) {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert metric for %s", r.RunID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit report")
}

// GetReport returns nil, nil when the report is not stored.
func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*model.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", runID)
	}
	return decodeReport([]byte(data))
}

func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]ReportInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, pdf_path, timestamp, total, verified, recovered, flagged, intervention_required
		 FROM reports ORDER BY timestamp DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []ReportInfo
	for rows.Next() {
		var ri ReportInfo
		if err := rows.Scan(&ri.RunID, &ri.PDFPath, &ri.Timestamp, &ri.Summary.Total, &ri.Summary.Verified,
			&ri.Summary.Recovered, &ri.Summary.Flagged, &ri.Summary.InterventionRequired); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		out = append(out, ri)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	if err := prepareDLQ(entry); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, job_id, pdf_path, error, error_type, failed_step, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   job_id = excluded.job_id, error = excluded.error, error_type = excluded.error_type, failed_step = excluded.failed_step,
		   retry_count = excluded.retry_count, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.JobID, entry.PDFPath, entry.Error, entry.ErrorType, entry.FailedStep,
		entry.RetryCount, entry.MaxRetries, entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, job_id, pdf_path, error, error_type, failed_step, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY last_failed_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.PDFPath, &e.Error, &e.ErrorType, &e.FailedStep,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: remove dlq")
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
