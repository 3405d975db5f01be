package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"example.com/coaching/internal/domain"
	"example.com/coaching/internal/events"
)

// Materializer is the slice of the domain service the handler needs.
type Materializer interface {
	Materialize(ctx context.Context, tenantID, activityID, clientID string) (domain.MaterializeResult, error)
	MaterializeActivity(ctx context.Context, tenantID, activityID string) (domain.MaterializeResult, error)
}

// MaterializeHandler reacts to trigger events by re-running the
// materializer for the affected scope: a single (activity, client) pair
// for activations, every active enrollment of the activity for
// reactivations and period extensions.
type MaterializeHandler struct {
	materializer Materializer
	logger       *log.Logger
}

// NewMaterializeHandler constructs a handler around the given materializer.
func NewMaterializeHandler(materializer Materializer, logger *log.Logger) *MaterializeHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile)
	}
	return &MaterializeHandler{materializer: materializer, logger: logger}
}

// Handle dispatches the decoded message by event type. Unknown event types
// are acknowledged without action so topic evolution does not wedge the
// consumer group.
func (h *MaterializeHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeEnrollmentActivated:
		return h.handleEnrollmentActivated(ctx, msg)
	case events.TypeTemplateReactivated:
		return h.handleTemplateReactivated(ctx, msg)
	case events.TypePeriodsExtended:
		return h.handlePeriodsExtended(ctx, msg)
	default:
		h.logger.Printf("skipping unknown event type %q (topic=%s, offset=%d)", msg.EventType, msg.Topic, msg.Offset)
		return nil
	}
}

func (h *MaterializeHandler) handleEnrollmentActivated(ctx context.Context, msg Message) error {
	var payload events.EnrollmentActivated
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode enrollment.activated payload: %w", err)
	}

	result, err := h.materializer.Materialize(ctx, payload.TenantID, payload.ActivityID, payload.ClientID)
	if err != nil {
		return fmt.Errorf("materialize enrollment %s: %w", payload.EnrollmentID, err)
	}
	h.logger.Printf("materialized enrollment %s: inserted=%d already_present=%d", payload.EnrollmentID, result.Inserted, result.AlreadyPresent)
	return nil
}

func (h *MaterializeHandler) handleTemplateReactivated(ctx context.Context, msg Message) error {
	var payload events.TemplateReactivated
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode template.reactivated payload: %w", err)
	}

	result, err := h.materializer.MaterializeActivity(ctx, payload.TenantID, payload.ActivityID)
	if err != nil {
		return fmt.Errorf("backfill activity %s after reactivation of template %s: %w", payload.ActivityID, payload.TemplateID, err)
	}
	h.logger.Printf("backfilled activity %s after template %s reactivation: inserted=%d", payload.ActivityID, payload.TemplateID, result.Inserted)
	return nil
}

func (h *MaterializeHandler) handlePeriodsExtended(ctx context.Context, msg Message) error {
	var payload events.PeriodsExtended
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode activity.periods_extended payload: %w", err)
	}

	result, err := h.materializer.MaterializeActivity(ctx, payload.TenantID, payload.ActivityID)
	if err != nil {
		return fmt.Errorf("backfill activity %s after period extension: %w", payload.ActivityID, err)
	}
	h.logger.Printf("backfilled activity %s for periods %d..%d: inserted=%d", payload.ActivityID, payload.FromSequence, payload.ToSequence, result.Inserted)
	return nil
}
