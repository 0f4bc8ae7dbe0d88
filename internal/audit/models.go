package audit

import "time"

// Event is an immutable, append-only error-tracking record.
//
// Invariants:
// - Events are never updated or deleted.
// - Writes are best-effort; callers never block a live call on them.
//
// Storage (Postgres): table audit_events, INSERT only.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the category of the record.
	Type EventType `json:"type" db:"type"`

	// UserID owns the call, when known. Zero for calls to unowned numbers.
	UserID int64 `json:"user_id,omitempty" db:"user_id"`
	// CallID is the provider call id the event is about.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Actor fields are set for operator API events.
	ActorUserID int64  `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeUncaughtError  EventType = "uncaught_error"
	EventTypeUnknownCall    EventType = "unknown_call"
	EventTypeTurnTimeout    EventType = "turn_timeout"
	EventTypeOperatorAccess EventType = "operator_access"
)
