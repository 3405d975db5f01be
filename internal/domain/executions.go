package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ClientExecutions returns the execution rows a client tracks for one
// activity. It re-runs Materialize first: if a previous trigger failed
// between an enrollment activating (or a template reactivating) and its
// backfill, the missing rows are repaired here instead of surfacing a
// mismatched count to the client. The upsert is a no-op in the steady
// state, so the repair is cheap.
func (s *Service) ClientExecutions(ctx context.Context, tenantID, activityID, clientID string) ([]Execution, error) {
	if _, err := s.Materialize(ctx, tenantID, activityID, clientID); err != nil {
		// The read itself can still proceed on whatever rows exist.
		s.logger.Printf("self-heal materialize failed (activity=%s, client=%s): %v", activityID, clientID, err)
	}

	return s.executions.ListForClient(ctx, tenantID, activityID, clientID)
}

// RecordCompletion updates the client-owned completion fields of an
// execution. The materializer never overwrites these.
func (s *Service) RecordCompletion(ctx context.Context, tenantID, executionID string, completed bool, performance json.RawMessage) error {
	return s.executions.RecordCompletion(ctx, tenantID, executionID, completed, performance, time.Now().UTC())
}
