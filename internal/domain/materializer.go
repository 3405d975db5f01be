package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/coaching/internal/observability"
)

// Materialize computes the target execution set for one (activity, client)
// pair and upserts it: one row per (active template, period), existing rows
// left untouched. It is idempotent and safe to call concurrently or
// repeatedly; re-enrollment, webhook replay, and explicit backfill all
// reduce to the same call.
func (s *Service) Materialize(ctx context.Context, tenantID, activityID, clientID string) (MaterializeResult, error) {
	start := time.Now()

	periods, err := s.periods.List(ctx, tenantID, activityID)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("list periods: %w", err)
	}

	templates, err := s.templates.ActiveTemplates(ctx, tenantID, activityID)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("list active templates: %w", err)
	}

	// An activity with no periods or no active templates yet is a valid
	// no-op, not an error.
	if len(periods) == 0 || len(templates) == 0 {
		return MaterializeResult{}, nil
	}

	now := time.Now().UTC()
	target := make([]Execution, 0, len(templates)*len(periods))
	for _, template := range templates {
		for _, period := range periods {
			target = append(target, Execution{
				ID:         uuid.NewString(),
				TenantID:   tenantID,
				ClientID:   clientID,
				TemplateID: template.ID,
				PeriodID:   period.ID,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}

	var inserted int
	err = s.withConflictRetry(ctx, func() error {
		var upsertErr error
		inserted, upsertErr = s.executions.BulkUpsert(ctx, tenantID, target)
		return upsertErr
	})
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("upsert executions: %w", err)
	}

	result := MaterializeResult{
		Inserted:       inserted,
		AlreadyPresent: len(target) - inserted,
	}
	observability.RecordMaterialization(result.Inserted, result.AlreadyPresent, time.Since(start))
	return result, nil
}

// MaterializeActivity backfills every active enrollment of an activity.
// Used after a template reactivation or a period extension; each per-client
// pass is independently idempotent, so partial failures are retried by
// re-running the whole backfill.
func (s *Service) MaterializeActivity(ctx context.Context, tenantID, activityID string) (MaterializeResult, error) {
	enrollments, err := s.enrollments.ListActive(ctx, tenantID, activityID)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("list active enrollments: %w", err)
	}

	var total MaterializeResult
	var errs error
	for _, enrollment := range enrollments {
		result, err := s.Materialize(ctx, tenantID, activityID, enrollment.ClientID)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("client %s: %w", enrollment.ClientID, err))
			continue
		}
		total.Add(result)
	}
	if errs != nil {
		return total, errs
	}
	observability.RecordBackfill(len(enrollments))
	return total, nil
}
