package domain

import "errors"

var (
	// ErrNotAttached is returned when a membership mutation references a
	// (template, activity) pair that was never attached.
	ErrNotAttached = errors.New("template not attached to activity")
	// ErrAlreadyAttached is returned when attaching a template that is
	// already attached and active for the activity.
	ErrAlreadyAttached = errors.New("template already attached to activity")
	// ErrAlreadyAssigned is returned when a period assignment does not
	// strictly extend the existing plan.
	ErrAlreadyAssigned = errors.New("periods already assigned to activity")
	// ErrInvalidTransition is returned for enrollment transitions that are
	// not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid enrollment transition")
	// ErrEnrollmentExists is returned when a client already holds a
	// non-cancelled enrollment for the activity.
	ErrEnrollmentExists = errors.New("enrollment already exists for client and activity")
	// ErrStorageConflict marks transient constraint/lock contention.
	// Callers retry with bounded backoff; it is never a hard failure.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrTemplateNotFound is returned when a template cannot be located.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrEnrollmentNotFound is returned when an enrollment cannot be located.
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	// ErrExecutionNotFound is returned when an execution cannot be located.
	ErrExecutionNotFound = errors.New("execution not found")
)
