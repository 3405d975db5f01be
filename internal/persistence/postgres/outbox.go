package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/coaching/internal/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeEnrollmentActivated: {
		Topic:         "enrollment_events",
		SchemaSubject: "enrollment_events-value",
	},
	events.TypeTemplateReactivated: {
		Topic:         "template_events",
		SchemaSubject: "template_events-value",
	},
	events.TypePeriodsExtended: {
		Topic:         "period_events",
		SchemaSubject: "period_events-value",
	},
}

// insertOutbox records a trigger event in the same transaction as the
// state change that causes it. The partition key is the activity id so all
// triggers for one activity land on one partition; duplicates are allowed
// because every consumer-side handler is idempotent.
func insertOutbox(ctx context.Context, tx pgx.Tx, tenantID, aggregateType, aggregateID, eventType, activityID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s:%s", aggregateID, eventType, activityID)

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		tenantID,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		activityID,
		body,
		dedupeKey,
	)
	return mapPgError(err)
}
