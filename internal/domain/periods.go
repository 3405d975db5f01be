package domain

import (
	"context"
	"fmt"
)

// AssignPeriods creates the period plan 1..count for an activity, or
// extends an existing plan strictly upward. Extension means new required
// execution rows for already-enrolled clients, so it triggers the same
// backfill as a template reactivation. A non-extending count fails with
// ErrAlreadyAssigned.
func (s *Service) AssignPeriods(ctx context.Context, tenantID, activityID string, count int, createdBy string) ([]Period, error) {
	if count <= 0 {
		return nil, fmt.Errorf("period count must be > 0")
	}

	created, err := s.periods.Assign(ctx, tenantID, activityID, count, createdBy)
	if err != nil {
		return nil, err
	}

	// created[0].Sequence > 1 means the plan already existed and this call
	// appended to it.
	if len(created) > 0 && created[0].Sequence > 1 {
		s.backfillActivity(ctx, tenantID, activityID)
	}
	return created, nil
}

// ListPeriods returns the activity's periods ordered by sequence.
func (s *Service) ListPeriods(ctx context.Context, tenantID, activityID string) ([]Period, error) {
	return s.periods.List(ctx, tenantID, activityID)
}
