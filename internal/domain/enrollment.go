package domain

import "time"

// EnrollmentStatus represents the lifecycle state of a client's
// subscription to an activity.
type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// CanTransition reports whether the status machine allows moving to the
// target status. Transitions are monotonic; cancellation is terminal and
// reachable from pending or active.
func (s EnrollmentStatus) CanTransition(to EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusPending:
		return to == EnrollmentStatusActive || to == EnrollmentStatusCancelled
	case EnrollmentStatusActive:
		return to == EnrollmentStatusCompleted || to == EnrollmentStatusCancelled
	default:
		return false
	}
}

// Enrollment is a client's relationship to an activity. StartDate is
// stamped exactly once, on the first transition into active; a replayed
// activation must not move it.
type Enrollment struct {
	ID         string
	TenantID   string
	ActivityID string
	ClientID   string
	Status     EnrollmentStatus
	StartDate  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
