package domain

import (
	"encoding/json"
	"time"
)

// Execution is the concrete, trackable instance of "this client does this
// template in this period". The triple (client, template, period) is the
// natural key; a row is created once by the materializer and afterwards
// only mutated by the client (completion) or the coach (corrections).
type Execution struct {
	ID          string
	TenantID    string
	ClientID    string
	TemplateID  string
	PeriodID    string
	Completed   bool
	Performance json.RawMessage
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MaterializeResult reports the outcome of one materialization pass.
// AlreadyPresent > 0 is the expected steady state on repeat calls, not an
// error.
type MaterializeResult struct {
	Inserted       int
	AlreadyPresent int
}

// Add accumulates another pass into the result, for activity-wide
// backfills that materialize several enrollments.
func (r *MaterializeResult) Add(other MaterializeResult) {
	r.Inserted += other.Inserted
	r.AlreadyPresent += other.AlreadyPresent
}
