package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateTemplateInput captures the authoring payload for a new template.
type CreateTemplateInput struct {
	TenantID string
	CoachID  string
	Name     string
	Kind     TemplateKind
	Content  json.RawMessage
}

// Validate ensures the input is usable.
func (in CreateTemplateInput) Validate() error {
	if strings.TrimSpace(in.CoachID) == "" {
		return fmt.Errorf("coach_id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if in.Kind != TemplateKindExercise && in.Kind != TemplateKindMeal {
		return fmt.Errorf("kind must be %q or %q", TemplateKindExercise, TemplateKindMeal)
	}
	return nil
}

// CreateTemplate persists a new template with an empty membership map.
func (s *Service) CreateTemplate(ctx context.Context, input CreateTemplateInput) (*Template, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := Template{
		ID:         uuid.NewString(),
		TenantID:   input.TenantID,
		CoachID:    input.CoachID,
		Name:       input.Name,
		Kind:       input.Kind,
		Content:    input.Content,
		CreatedAt:  now,
		UpdatedAt:  now,
		Membership: map[string]MembershipEntry{},
	}

	if err := s.templates.Create(ctx, template); err != nil {
		return nil, err
	}
	return &template, nil
}

// GetTemplate fetches a template with its membership map.
func (s *Service) GetTemplate(ctx context.Context, tenantID, templateID string) (*Template, error) {
	template, err := s.templates.Get(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, ErrTemplateNotFound
	}
	return template, nil
}

// AttachTemplate adds the activity to the template's membership map with
// the flag on. Attaching an already-active pair fails with
// ErrAlreadyAttached; attaching a present-but-inactive pair is a
// reactivation and triggers the same backfill as SetTemplateActive(true).
func (s *Service) AttachTemplate(ctx context.Context, tenantID, templateID, activityID string) (AttachOutcome, error) {
	outcome, err := s.templates.Attach(ctx, tenantID, templateID, activityID)
	if err != nil {
		return "", err
	}

	if outcome == AttachOutcomeReactivated {
		s.backfillActivity(ctx, tenantID, activityID)
	}
	return outcome, nil
}

// SetTemplateActive flips the membership flag for one activity.
// Deactivation only flips: the entry stays in the map and no execution
// history is touched, including rows created under other activities that
// share the template. Reactivation flips and then backfills every
// currently-active enrollment, because clients enrolled while the template
// was inactive must retroactively receive the missing executions.
func (s *Service) SetTemplateActive(ctx context.Context, tenantID, templateID, activityID string, active bool) error {
	reactivated, err := s.templates.SetActive(ctx, tenantID, templateID, activityID, active)
	if err != nil {
		return err
	}

	// The flip (and its outbox trigger) committed above; the synchronous
	// backfill here is best-effort. A crash in between is recovered by the
	// consumer replaying the trigger, or by the self-healing read path.
	if reactivated {
		s.backfillActivity(ctx, tenantID, activityID)
	}
	return nil
}

func (s *Service) backfillActivity(ctx context.Context, tenantID, activityID string) {
	result, err := s.MaterializeActivity(ctx, tenantID, activityID)
	if err != nil {
		s.logger.Printf("backfill incomplete (activity=%s): %v", activityID, err)
		return
	}
	if result.Inserted > 0 {
		s.logger.Printf("backfill inserted %d executions (activity=%s)", result.Inserted, activityID)
	}
}
