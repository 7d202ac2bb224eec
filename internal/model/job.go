package model

import "time"

// JobStatus represents the lifecycle state of a background audit job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	// JobStatusUnknown is reported for ids the manager has never seen.
	JobStatusUnknown JobStatus = "UNKNOWN"
)

// Rank orders statuses for monotonic transitions. Terminal states share the
// highest rank. Unknown statuses rank below QUEUED.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusQueued:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusCompleted, JobStatusFailed:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether the status is COMPLETED or FAILED.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a background audit of one document.
type Job struct {
	ID          string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	PDFPath     string     `json:"pdf_path"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      *Report    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Step        string     `json:"step,omitempty"` // failing pipeline step, if known
	Logs        []string   `json:"logs,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (j Job) Clone() Job {
	out := j
	out.Result = j.Result.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Logs != nil {
		out.Logs = append([]string(nil), j.Logs...)
	}
	return out
}
