package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
	"github.com/stefanos11892/GVD-Engine/internal/store"
)

const scanLimit = 10000

// Snapshot holds a point-in-time view of audit health.
type Snapshot struct {
	// Jobs submitted within the lookback window.
	JobsTotal      int     `json:"jobs_total"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsFailed     int     `json:"jobs_failed"`
	JobsQueued     int     `json:"jobs_queued"`
	JobsProcessing int     `json:"jobs_processing"`
	JobFailRate    float64 `json:"job_fail_rate"`

	// Metric outcomes across reports produced within the window.
	Reports          int     `json:"reports"`
	Metrics          int     `json:"metrics"`
	Recovered        int     `json:"recovered"`
	Flagged          int     `json:"flagged"`
	Intervention     int     `json:"intervention_required"`
	InterventionRate float64 `json:"intervention_rate"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read side of the store the collector needs.
type Source interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	ListReports(ctx context.Context, limit int) ([]store.ReportInfo, error)
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
}

// Collector gathers snapshots from a store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new snapshot collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.src.ListJobs(ctx, store.JobFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}
	for _, j := range jobs {
		if j.SubmittedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusQueued:
			snap.JobsQueued++
		case model.JobStatusProcessing:
			snap.JobsProcessing++
		}
	}
	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	reports, err := c.src.ListReports(ctx, scanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reports")
	}
	for _, r := range reports {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		snap.Reports++
		snap.Metrics += r.Summary.Total
		snap.Recovered += r.Summary.Recovered
		snap.Flagged += r.Summary.Flagged
		snap.Intervention += r.Summary.InterventionRequired
	}
	if snap.Metrics > 0 {
		snap.InterventionRate = float64(snap.Intervention) / float64(snap.Metrics)
	}

	dlq, err := c.src.ListDLQ(ctx, resilience.DLQFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list dlq")
	}
	snap.DLQDepth = len(dlq)

	return snap, nil
}
