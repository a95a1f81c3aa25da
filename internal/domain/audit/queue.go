package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DispatchRecord is a persisted audit event queued for delivery to the audit
// stream. The payload is the serialized Event; it is written in the same
// transaction as the mutation it describes and relayed asynchronously.
type DispatchRecord struct {
	ID            int64           `json:"id"`
	EventID       uuid.UUID       `json:"event_id"`
	EntityID      uuid.UUID       `json:"entity_id"`
	EntityURN     string          `json:"entity_urn"`
	Payload       json.RawMessage `json:"payload"`
	Status        DispatchStatus  `json:"status"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// DecodeEvent extracts the audit event from the payload.
func (r *DispatchRecord) DecodeEvent() (*Event, error) {
	var event Event
	if err := json.Unmarshal(r.Payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// DispatchQueue manages queued audit events awaiting delivery. Implementations
// back the relay poller; writes happen through Sink.EmitTransactional.
type DispatchQueue interface {
	GetPending(ctx context.Context, limit int) ([]*DispatchRecord, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
	IncrementAttempts(ctx context.Context, id int64) error
}

// ErrRecordNotFound indicates a missing dispatch record
type ErrRecordNotFound struct {
	ID int64
}

func (e ErrRecordNotFound) Error() string {
	return "audit dispatch record not found"
}

// Is matches any ErrRecordNotFound when the target carries a zero ID
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	if t.ID == 0 {
		return true
	}
	return e.ID == t.ID
}
