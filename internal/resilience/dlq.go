package resilience

import "time"

// DLQEntry records a failed audit job so it can be inspected or resubmitted.
type DLQEntry struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	PDFPath      string    `json:"pdf_path"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	FailedStep   string    `json:"failed_step,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter narrows dead-letter queries.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry is transient and under its retry cap.
func (e *DLQEntry) CanRetry() bool {
	return e.ErrorType == "transient" && e.RetryCount < e.MaxRetries
}
