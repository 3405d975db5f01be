// Package domain defines the business logic for the coaching engine:
// template membership, period registry, enrollment lifecycle, and the
// execution materializer.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// AttachOutcome describes what Attach did for a (template, activity) pair.
type AttachOutcome string

const (
	// AttachOutcomeAttached means a new membership entry was created.
	AttachOutcomeAttached AttachOutcome = "attached"
	// AttachOutcomeReactivated means an inactive entry was flipped back on.
	AttachOutcomeReactivated AttachOutcome = "reactivated"
)

// TemplateRepository captures template and membership persistence.
// Implementations serialize membership writes per template so concurrent
// attach/flip calls from different activities never lose each other's
// entry.
type TemplateRepository interface {
	Create(ctx context.Context, template Template) error
	Get(ctx context.Context, tenantID, templateID string) (*Template, error)
	Attach(ctx context.Context, tenantID, templateID, activityID string) (AttachOutcome, error)
	// SetActive flips the membership flag. The reactivated return is true
	// only for a false->true flip; implementations must commit the flip
	// (and its backfill trigger event) before returning.
	SetActive(ctx context.Context, tenantID, templateID, activityID string, active bool) (reactivated bool, err error)
	ActiveTemplates(ctx context.Context, tenantID, activityID string) ([]Template, error)
}

// PeriodRepository captures the per-activity period registry.
type PeriodRepository interface {
	// Assign creates periods up to count. A first assignment creates
	// 1..count; a strictly-upward extension appends prev+1..count and
	// records the extension trigger event in the same transaction.
	// Anything else fails with ErrAlreadyAssigned.
	Assign(ctx context.Context, tenantID, activityID string, count int, createdBy string) ([]Period, error)
	List(ctx context.Context, tenantID, activityID string) ([]Period, error)
}

// EnrollmentRepository captures enrollment persistence and transitions.
type EnrollmentRepository interface {
	Create(ctx context.Context, enrollment Enrollment) error
	Get(ctx context.Context, tenantID, enrollmentID string) (*Enrollment, error)
	// Activate performs the pending->active transition. Already-active
	// enrollments return activated=false with no change to StartDate.
	Activate(ctx context.Context, tenantID, enrollmentID string, now time.Time) (*Enrollment, bool, error)
	Transition(ctx context.Context, tenantID, enrollmentID string, to EnrollmentStatus, now time.Time) error
	ListActive(ctx context.Context, tenantID, activityID string) ([]Enrollment, error)
}

// ExecutionRepository captures execution persistence. BulkUpsert must rely
// on the storage-level uniqueness of (client, template, period): rows that
// already exist are left untouched and excluded from the inserted count.
type ExecutionRepository interface {
	BulkUpsert(ctx context.Context, tenantID string, executions []Execution) (inserted int, err error)
	ListForClient(ctx context.Context, tenantID, activityID, clientID string) ([]Execution, error)
	RecordCompletion(ctx context.Context, tenantID, executionID string, completed bool, performance json.RawMessage, now time.Time) error
}

// Service orchestrates the engine's operations over the repositories.
type Service struct {
	templates   TemplateRepository
	periods     PeriodRepository
	enrollments EnrollmentRepository
	executions  ExecutionRepository

	logger       *log.Logger
	maxAttempts  int
	retryBackoff time.Duration
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithLogger overrides the logger used for degraded-path reporting.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConflictRetry tunes the bounded retry applied to storage conflicts.
func WithConflictRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			s.retryBackoff = backoff
		}
	}
}

// NewService constructs a Service.
func NewService(templates TemplateRepository, periods PeriodRepository, enrollments EnrollmentRepository, executions ExecutionRepository, opts ...Option) *Service {
	s := &Service{
		templates:    templates,
		periods:      periods,
		enrollments:  enrollments,
		executions:   executions,
		logger:       log.New(log.Writer(), "[coaching] ", log.LstdFlags),
		maxAttempts:  3,
		retryBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withConflictRetry runs fn, retrying ErrStorageConflict with exponential
// backoff up to maxAttempts. Any other error surfaces immediately.
func (s *Service) withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrStorageConflict) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}

		delay := time.Duration(1<<uint(attempt-1)) * s.retryBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
