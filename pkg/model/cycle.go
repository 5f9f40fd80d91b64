package model

import "time"

// CycleOutcome is the terminal state of one BIRD update cycle.
type CycleOutcome string

const (
	CycleWritten  CycleOutcome = "written"
	CycleDeferred CycleOutcome = "deferred"
	CycleDisabled CycleOutcome = "disabled"
	CycleFailed   CycleOutcome = "failed"
)

// CycleEvent captures a finished update cycle.
type CycleEvent struct {
	ID        uint64       `json:"id"` // watermark the cycle ran under
	Retries   uint32       `json:"retries"`
	Outcome   CycleOutcome `json:"outcome"`
	Path      string       `json:"path,omitempty"`
	Lines     int          `json:"lines,omitempty"`
	BusyZone  string       `json:"busyZone,omitempty"`
	Response  string       `json:"response,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	// Reconfigure is how long the control socket exchange took; 0 when skipped.
	Reconfigure time.Duration `json:"reconfigureNs,omitempty"`
}
