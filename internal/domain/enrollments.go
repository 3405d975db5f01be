package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateEnrollment registers a pending enrollment for a client. At most
// one non-cancelled enrollment may exist per (client, activity); a second
// attempt fails with ErrEnrollmentExists.
func (s *Service) CreateEnrollment(ctx context.Context, tenantID, activityID, clientID string) (*Enrollment, error) {
	if strings.TrimSpace(activityID) == "" || strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("activity_id and client_id are required")
	}

	now := time.Now().UTC()
	enrollment := Enrollment{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ActivityID: activityID,
		ClientID:   clientID,
		Status:     EnrollmentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// GetEnrollment fetches an enrollment by id.
func (s *Service) GetEnrollment(ctx context.Context, tenantID, enrollmentID string) (*Enrollment, error) {
	enrollment, err := s.enrollments.Get(ctx, tenantID, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, ErrEnrollmentNotFound
	}
	return enrollment, nil
}

// ActivateEnrollment performs the pending->active transition. The status
// write, the start-date stamp, and the activation trigger event commit as
// one transaction; materialization runs after commit. A duplicate call
// (replayed purchase confirmation) finds the enrollment already active and
// returns success without moving the start date.
//
// A materialization failure after the commit leaves the enrollment active
// with an incomplete execution set. That state is degraded, not fatal: the
// consumer redelivers the activation event, and the read path re-runs
// Materialize on access.
func (s *Service) ActivateEnrollment(ctx context.Context, tenantID, enrollmentID string) (*Enrollment, bool, error) {
	enrollment, activated, err := s.enrollments.Activate(ctx, tenantID, enrollmentID, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}

	if _, err := s.Materialize(ctx, tenantID, enrollment.ActivityID, enrollment.ClientID); err != nil {
		s.logger.Printf("materialize after activation incomplete (enrollment=%s): %v", enrollment.ID, err)
	}
	return enrollment, activated, nil
}

// CompleteEnrollment transitions active->completed.
func (s *Service) CompleteEnrollment(ctx context.Context, tenantID, enrollmentID string) error {
	return s.enrollments.Transition(ctx, tenantID, enrollmentID, EnrollmentStatusCompleted, time.Now().UTC())
}

// CancelEnrollment transitions into the terminal cancelled status.
// Execution history is kept.
func (s *Service) CancelEnrollment(ctx context.Context, tenantID, enrollmentID string) error {
	return s.enrollments.Transition(ctx, tenantID, enrollmentID, EnrollmentStatusCancelled, time.Now().UTC())
}

// TransitionError builds the uniform invalid-transition error used by
// repository implementations.
func TransitionError(from, to EnrollmentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
