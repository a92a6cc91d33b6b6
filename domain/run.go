package domain

import "time"

// Run is the ephemeral per-request pipeline state. It is created when a
// request starts and discarded when the stream ends; nothing about it is
// persisted.
type Run struct {
	CorrelationID string
	StartedAt     time.Time
	Budget        time.Duration
	Summaries     []StageSummary
}

// Elapsed returns the wall-clock time since the run started.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.StartedAt)
}

// Remaining returns the unspent budget.
func (r *Run) Remaining() time.Duration {
	return r.Budget - r.Elapsed()
}

// Record appends one stage summary.
func (r *Run) Record(role StageRole, status StageStatus, duration time.Duration) {
	r.Summaries = append(r.Summaries, StageSummary{
		Agent:      role,
		Status:     status,
		DurationMs: duration.Milliseconds(),
	})
}

// StageSummary is the final per-stage record reported in pipeline-done.
type StageSummary struct {
	Agent      StageRole   `json:"agent"`
	Status     StageStatus `json:"status"`
	DurationMs int64       `json:"durationMs"`
}
