package models

import "time"

// RunStatus is the overall outcome of a harvest run
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is the persisted history entry of one pipeline run.
type RunRecord struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Status      RunStatus     `json:"status"`
	LoginState  string        `json:"login_state"`
	LoginReason string        `json:"login_reason,omitempty"`
	TokenSource TokenSource   `json:"token_source,omitempty"`
	Results     []FetchResult `json:"results,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Duration is the wall time of the run
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
