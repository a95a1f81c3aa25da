package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Archive is the long-term audit read model fed by the relay. Writes are
// idempotent on the event ID because delivery from the audit stream is
// at-least-once.
type Archive interface {
	Save(ctx context.Context, event *Event) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*Event, error)

	// GetByEntityURN retrieves the audit trail of one entity within a
	// tenant, newest first.
	GetByEntityURN(ctx context.Context, tenantID uuid.UUID, entityURN string, limit, offset int) ([]*Event, error)
	CountByEntityURN(ctx context.Context, tenantID uuid.UUID, entityURN string) (int64, error)

	GetByTimeRange(ctx context.Context, tenantID uuid.UUID, start, end time.Time, limit, offset int) ([]*Event, error)
}

// ErrDuplicateEvent indicates an event ID already present in the archive.
// Redelivered events surface it so handlers can acknowledge without rewriting.
type ErrDuplicateEvent struct {
	EventID uuid.UUID
}

func (e ErrDuplicateEvent) Error() string {
	return "audit event already archived: " + e.EventID.String()
}

// Is matches any ErrDuplicateEvent when the target carries a nil event ID.
func (e ErrDuplicateEvent) Is(target error) bool {
	t, ok := target.(ErrDuplicateEvent)
	if !ok {
		return false
	}
	if t.EventID == uuid.Nil {
		return true
	}
	return e.EventID == t.EventID
}

// ErrEventNotFound indicates a missing archived event.
type ErrEventNotFound struct {
	EventID uuid.UUID
}

func (e ErrEventNotFound) Error() string {
	return "archived audit event not found: " + e.EventID.String()
}

// Is matches any ErrEventNotFound when the target carries a nil event ID.
func (e ErrEventNotFound) Is(target error) bool {
	t, ok := target.(ErrEventNotFound)
	if !ok {
		return false
	}
	if t.EventID == uuid.Nil {
		return true
	}
	return e.EventID == t.EventID
}
