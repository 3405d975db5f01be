package domain

import (
	"encoding/json"
	"time"
)

// TemplateKind distinguishes exercise templates from meal templates.
type TemplateKind string

const (
	TemplateKindExercise TemplateKind = "exercise"
	TemplateKindMeal     TemplateKind = "meal"
)

// MembershipEntry records whether a template currently materializes for one
// activity. Entries are flipped, never removed: deactivation must not lose
// the attachment or any execution history recorded under it.
type MembershipEntry struct {
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Template is a reusable exercise or meal definition. One template may be
// attached to many activities at once; the membership map is the only
// source of truth for which activities it currently materializes for.
type Template struct {
	ID        string
	TenantID  string
	CoachID   string
	Name      string
	Kind      TemplateKind
	Content   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time

	// Membership maps activity id to the activation flag for that activity.
	Membership map[string]MembershipEntry
}

// ActiveFor reports whether the template currently materializes for the
// given activity.
func (t *Template) ActiveFor(activityID string) bool {
	entry, ok := t.Membership[activityID]
	return ok && entry.Active
}
