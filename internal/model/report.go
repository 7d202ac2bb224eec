package model

import (
	"encoding/json"
	"time"
)

// Report is the terminal artifact of one audit run. Its JSON keys are a
// contract with downstream viewers and must not change.
type Report struct {
	RunID               string          `json:"run_id"`
	Timestamp           time.Time       `json:"timestamp"`
	PDFPath             string          `json:"pdf_path"`
	Metrics             []Metric        `json:"metrics"`
	QualAnalysis        json.RawMessage `json:"qual_analysis"`
	InstitutionalThesis json.RawMessage `json:"institutional_thesis"`
	QuantNote           *string         `json:"quant_note"`
	QuantError          *string         `json:"quant_error"`
}

// Clone returns a deep copy of r.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metrics != nil {
		out.Metrics = make([]Metric, len(r.Metrics))
		for i, m := range r.Metrics {
			out.Metrics[i] = m.Clone()
		}
	}
	out.QualAnalysis = cloneRaw(r.QualAnalysis)
	out.InstitutionalThesis = cloneRaw(r.InstitutionalThesis)
	if r.QuantNote != nil {
		n := *r.QuantNote
		out.QuantNote = &n
	}
	if r.QuantError != nil {
		e := *r.QuantError
		out.QuantError = &e
	}
	return &out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// Summary counts metrics by outcome.
type Summary struct {
	Total                int `json:"total"`
	Verified             int `json:"verified"`
	Recovered            int `json:"recovered"`
	Flagged              int `json:"flagged"`
	InterventionRequired int `json:"intervention_required"`
}

// Summarize tallies the report's metrics.
func (r *Report) Summarize() Summary {
	var s Summary
	for _, m := range r.Metrics {
		s.Total++
		if m.Verification != nil && m.Verification.IsVerified() {
			s.Verified++
		}
		if m.RecoveryUsed {
			s.Recovered++
		}
		if m.Flagged {
			s.Flagged++
		}
		if m.InterventionRequired {
			s.InterventionRequired++
		}
	}
	return s
}

// ErrorPlaceholder is stored in a pass-through report field when its
// collaborator failed.
type ErrorPlaceholder struct {
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}

// RawJSON marshals v, falling back to an error placeholder.
func RawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(ErrorPlaceholder{Error: err.Error()})
	}
	return b
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
