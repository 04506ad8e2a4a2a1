package audit

import (
	"context"
	"time"

	id "civreg/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers events with registry significance: submissions,
	// deletions and role changes. These are never sampled.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers denied or self-corrected actions worth alerting on.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	// Subject names the affected entity, e.g. "request:42".
	Subject   string
	Action    string
	Reason    string
	RequestID string // Correlation ID from the operation context
	// ActorID tracks who performed the action when different from UserID,
	// e.g. an administrator changing a request status or a user's role.
	ActorID string
}

type AuditEvent string

const (
	// Request lifecycle
	EventRequestCreated       AuditEvent = "request_created"
	EventRequestSubmitted     AuditEvent = "request_submitted"
	EventRequestUpdated       AuditEvent = "request_updated"
	EventRequestStatusChanged AuditEvent = "request_status_changed"
	EventRequestDeleted       AuditEvent = "request_deleted"
	EventDraftDeleted         AuditEvent = "draft_deleted"

	// Owner aggregate
	EventOwnerSaved AuditEvent = "owner_saved"

	// Draft identity
	EventDraftIdentityHealed AuditEvent = "draft_identity_healed"

	// Users
	EventUserProfileCreated AuditEvent = "user_profile_created"
	EventUserRoleChanged    AuditEvent = "user_role_changed"
	EventUserRoleDenied     AuditEvent = "user_role_change_denied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRequestSubmitted:     CategoryCompliance,
	EventRequestStatusChanged: CategoryCompliance,
	EventRequestDeleted:       CategoryCompliance,
	EventDraftDeleted:         CategoryCompliance,
	EventUserRoleChanged:      CategoryCompliance,
	EventUserProfileCreated:   CategoryCompliance,

	EventUserRoleDenied:      CategorySecurity,
	EventDraftIdentityHealed: CategorySecurity,

	EventRequestCreated: CategoryOperations,
	EventRequestUpdated: CategoryOperations,
	EventOwnerSaved:     CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists events and lists them back per user.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}

// Sink receives a copy of every published event (e.g. a Kafka topic).
type Sink interface {
	Append(ctx context.Context, event Event) error
}
