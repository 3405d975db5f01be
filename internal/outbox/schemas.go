package outbox

import "example.com/coaching/internal/events"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeEnrollmentActivated: {Schema: enrollmentActivatedSchema},
	events.TypeTemplateReactivated: {Schema: templateReactivatedSchema},
	events.TypePeriodsExtended:     {Schema: periodsExtendedSchema},
}

const enrollmentActivatedSchema = `{
  "type": "object",
  "title": "EnrollmentActivated",
  "properties": {
    "enrollment_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "client_id": {"type": "string"},
    "start_date": {"type": "string", "format": "date-time"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["enrollment_id", "tenant_id", "activity_id", "client_id", "start_date", "occurred_at"],
  "additionalProperties": false
}`

const templateReactivatedSchema = `{
  "type": "object",
  "title": "TemplateReactivated",
  "properties": {
    "template_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["template_id", "tenant_id", "activity_id", "occurred_at"],
  "additionalProperties": false
}`

const periodsExtendedSchema = `{
  "type": "object",
  "title": "PeriodsExtended",
  "properties": {
    "tenant_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "from_sequence": {"type": "integer"},
    "to_sequence": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "activity_id", "from_sequence", "to_sequence", "occurred_at"],
  "additionalProperties": false
}`
