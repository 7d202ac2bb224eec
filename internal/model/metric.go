package model

import "time"

// Metric is one claimed financial fact together with its verification state.
type Metric struct {
	MetricID     string      `json:"metric_id"`
	DisplayName  string      `json:"display_name"`
	ValueRaw     string      `json:"value_raw"`
	DisplayValue string      `json:"display_value,omitempty"`
	Provenance   *Provenance `json:"provenance,omitempty"`

	Verification         *Verdict       `json:"verification,omitempty"`
	Flagged              bool           `json:"flagged"`
	RecoveryUsed         bool           `json:"recovery_used,omitempty"`
	InterventionRequired bool           `json:"intervention_required,omitempty"`
	AuditHistory         []AuditAttempt `json:"audit_history,omitempty"`
	FailureChain         []Verdict      `json:"failure_chain,omitempty"`
}

// AuditAttempt is an immutable snapshot of a failed verification attempt.
type AuditAttempt struct {
	Attempt      int       `json:"attempt"`
	ValueRaw     string    `json:"value_raw"`
	Verification Verdict   `json:"verification"`
	Timestamp    time.Time `json:"timestamp"`
}

// Snippet returns the provenance snippet, or "" when there is none.
func (m *Metric) Snippet() string {
	if m.Provenance == nil {
		return ""
	}
	return m.Provenance.SourceSnippet
}

// Clone returns a deep copy of m.
func (m Metric) Clone() Metric {
	out := m
	if m.Provenance != nil {
		p := *m.Provenance
		if m.Provenance.BBox != nil {
			b := *m.Provenance.BBox
			p.BBox = &b
		}
		out.Provenance = &p
	}
	if m.Verification != nil {
		v := cloneVerdict(*m.Verification)
		out.Verification = &v
	}
	if m.AuditHistory != nil {
		out.AuditHistory = make([]AuditAttempt, len(m.AuditHistory))
		for i, a := range m.AuditHistory {
			a.Verification = cloneVerdict(a.Verification)
			out.AuditHistory[i] = a
		}
	}
	if m.FailureChain != nil {
		out.FailureChain = make([]Verdict, len(m.FailureChain))
		for i, v := range m.FailureChain {
			out.FailureChain[i] = cloneVerdict(v)
		}
	}
	return out
}

func cloneVerdict(v Verdict) Verdict {
	if v.Confidence != nil {
		c := *v.Confidence
		v.Confidence = &c
	}
	return v
}
