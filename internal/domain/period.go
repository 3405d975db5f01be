package domain

import "time"

// Period is one numbered repetition unit (week, month) within an
// activity's program structure. Sequences are dense from 1 and immutable
// once executions reference them; structural changes append new periods.
type Period struct {
	ID         string
	TenantID   string
	ActivityID string
	Sequence   int
	CreatedBy  string
	CreatedAt  time.Time
}
