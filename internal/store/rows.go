package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

// metricColumns are the flattened per-metric columns written alongside each
// report for ad hoc querying.
var metricColumns = []string{
	"run_id", "position", "metric_id", "value_raw", "status",
	"flagged", "recovery_used", "intervention_required",
}

// jobRankSQL ranks a jobs.status column the way model.JobStatus.Rank does.
func jobRankSQL(col string) string {
	return "CASE " + col +
		" WHEN '" + string(model.JobStatusQueued) + "' THEN 1" +
		" WHEN '" + string(model.JobStatusProcessing) + "' THEN 2" +
		" WHEN '" + string(model.JobStatusCompleted) + "' THEN 3" +
		" WHEN '" + string(model.JobStatusFailed) + "' THEN 3" +
		" ELSE 0 END"
}

// jobUpsertGuard keeps SaveJob from moving a stored job backwards. Writes
// of the same status still refresh the record.
var jobUpsertGuard = "WHERE jobs.status = excluded.status OR " +
	jobRankSQL("jobs.status") + " < " + jobRankSQL("excluded.status")

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

func metricRows(r *model.Report) [][]any {
	rows := make([][]any, 0, len(r.Metrics))
	for i, m := range r.Metrics {
		status := ""
		if m.Verification != nil {
			status = string(m.Verification.Status)
		}
		rows = append(rows, []any{
			r.RunID, i, m.MetricID, m.ValueRaw, status,
			m.Flagged, m.RecoveryUsed, m.InterventionRequired,
		})
	}
	return rows
}

func encodeJob(job *model.Job) ([]byte, error) {
	if job == nil || job.ID == "" {
		return nil, eris.New("store: job id is required")
	}
	b, err := json.Marshal(job)
	return b, eris.Wrap(err, "store: marshal job")
}

func decodeJob(data []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal job")
	}
	return &job, nil
}

func encodeReport(r *model.Report) ([]byte, error) {
	if r == nil || r.RunID == "" {
		return nil, eris.New("store: report run_id is required")
	}
	b, err := json.Marshal(r)
	return b, eris.Wrap(err, "store: marshal report")
}

func decodeReport(data []byte) (*model.Report, error) {
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal report")
	}
	return &r, nil
}

// prepareDLQ fills the id and timestamps of a new entry.
func prepareDLQ(entry *resilience.DLQEntry) error {
	if entry == nil {
		return eris.New("store: nil dlq entry")
	}
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	return nil
}
