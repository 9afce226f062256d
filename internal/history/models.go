package history

import "time"

// Kind distinguishes defacing runs from batch mask applications.
type Kind string

const (
	KindDeface Kind = "deface"
	KindApply  Kind = "apply"
)

// Status is the outcome of a recorded run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is one ledger row.
type Record struct {
	ID         int64
	RunID      string
	Kind       Kind
	Input      string
	Output     string
	Template   string
	Facemask   string
	Cost       string
	Status     Status
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration reports how long the run took.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
