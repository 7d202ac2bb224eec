package audit

import "context"

// Pipeline step names, recorded as phase names and on failed jobs.
const (
	StepParse        = "parse"
	StepExtraction   = "quant_extraction"
	StepVerification = "verification"
	StepQual         = "qual_analysis"
	StepConsolidate  = "consolidation"
	StepPersist      = "persist"
)

// StepError is returned when a run cannot continue. Step names the phase
// that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

type jobIDKey struct{}

// WithJobID attaches the id of the job driving a run. Phases are recorded
// under it.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job id set by WithJobID, or "".
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}
