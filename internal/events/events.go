// Package events defines the payloads emitted through the outbox and
// consumed by the backfill consumer.
package events

import "time"

// EnrollmentActivated is emitted when an enrollment transitions
// pending -> active. Delivery is at-least-once; the consumer's
// materialization call is idempotent, so replays are harmless.
type EnrollmentActivated struct {
	EnrollmentID string    `json:"enrollment_id"`
	TenantID     string    `json:"tenant_id"`
	ActivityID   string    `json:"activity_id"`
	ClientID     string    `json:"client_id"`
	StartDate    time.Time `json:"start_date"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// TemplateReactivated is emitted when a membership entry flips from
// inactive back to active for an activity. The consumer backfills every
// active enrollment of that activity.
type TemplateReactivated struct {
	TemplateID string    `json:"template_id"`
	TenantID   string    `json:"tenant_id"`
	ActivityID string    `json:"activity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PeriodsExtended is emitted when an activity's period plan grows. New
// periods mean new required execution rows for already-enrolled clients.
type PeriodsExtended struct {
	TenantID     string    `json:"tenant_id"`
	ActivityID   string    `json:"activity_id"`
	FromSequence int       `json:"from_sequence"`
	ToSequence   int       `json:"to_sequence"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Event type identifiers shared by the outbox catalog and the consumer.
const (
	TypeEnrollmentActivated = "enrollment.activated"
	TypeTemplateReactivated = "template.reactivated"
	TypePeriodsExtended     = "activity.periods_extended"
)
