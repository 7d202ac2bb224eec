package model

import "strings"

// VerdictStatus is the outcome class of a verification check.
type VerdictStatus string

const (
	VerdictVerified      VerdictStatus = "verified"
	VerdictErrorDetected VerdictStatus = "error_detected"
	VerdictUnknown       VerdictStatus = "unknown"
	// VerdictUnparseable marks an auditor reply that could not be decoded.
	// The metric stays unverified but the run continues.
	VerdictUnparseable VerdictStatus = "error"
)

// Verdict is the normalized result of a physical, visual or textual check.
type Verdict struct {
	Status     VerdictStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Note       string        `json:"note,omitempty"`
	Details    string        `json:"details,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
}

// IsVerified reports whether the check passed.
func (v Verdict) IsVerified() bool { return v.Status == VerdictVerified }

// IsErrorDetected reports whether the check found a concrete error.
func (v Verdict) IsErrorDetected() bool { return v.Status == VerdictErrorDetected }

// IsUnparseable reports whether the check produced no usable reply.
func (v Verdict) IsUnparseable() bool { return v.Status == VerdictUnparseable }

// ParseVerdictStatus maps auditor status text onto a VerdictStatus. Empty
// input yields VerdictUnknown; unrecognized values are kept verbatim so they
// surface in the report rather than being coerced.
func ParseVerdictStatus(s string) VerdictStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return VerdictUnknown
	}
	return VerdictStatus(s)
}

// Float64 returns a pointer to f, for optional confidence fields.
func Float64(f float64) *float64 { return &f }
