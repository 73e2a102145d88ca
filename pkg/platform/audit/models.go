package audit

import (
	"context"
	"time"

	id "herdbook/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers changes to the registry itself. Kept forever.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers read-only lookups. Can be sampled.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	// Registration events
	EventIdentityRegistered AuditEvent = "identity_registered"
	EventIdentityMatched    AuditEvent = "identity_matched"

	// Identification events
	EventIdentityIdentified AuditEvent = "identity_identified"
	EventIdentityNotFound   AuditEvent = "identity_not_found"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventIdentityRegistered: CategoryCompliance,
	EventIdentityMatched:    CategoryCompliance,
	EventIdentityIdentified: CategoryOperations,
	EventIdentityNotFound:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	// RecordID is the registered or matched record; zero for not-found lookups.
	RecordID  id.RecordID `json:"record_id,omitempty"`
	Decision  string      `json:"decision,omitempty"`
	Score     float64     `json:"score,omitempty"`
	Compared  int         `json:"compared"`
	RequestID string      `json:"request_id,omitempty"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error)
}

// Sink receives a copy of every event. Sinks are write-only.
type Sink interface {
	Append(ctx context.Context, event Event) error
}
