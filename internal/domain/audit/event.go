// Package audit defines the audit event emitted alongside every payment
// mutation and the transactional sink contract. One mutation produces exactly
// one event, committed in the same database transaction as the mutation it
// describes; a failed emission aborts the mutation too.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Event types produced by the payment store.
const (
	EventTypePaymentCreated      = "payment.created"
	EventTypePaymentTransitioned = "payment.status_changed"
)

// Dispatch states of a recorded event on its way to the audit stream.
type DispatchStatus string

const (
	DispatchStatusPending  DispatchStatus = "PENDING"
	DispatchStatusSent     DispatchStatus = "DISPATCHED"
	DispatchStatusFailed   DispatchStatus = "FAILED_TO_DISPATCH"
	DispatchStatusArchived DispatchStatus = "ARCHIVED"
)

// Actor captures who performed the audited action and from where.
type Actor struct {
	UserID    uuid.UUID `json:"user_id" bson:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Roles     []string  `json:"roles,omitempty" bson:"roles,omitempty"`
	SessionID string    `json:"session_id,omitempty" bson:"session_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
}

// Payload carries the action name and, for status transitions, the before and
// after snapshot.
type Payload struct {
	Action string `json:"action" bson:"action"`
	Before string `json:"before,omitempty" bson:"before,omitempty"`
	After  string `json:"after,omitempty" bson:"after,omitempty"`
}

// Event is an immutable record of a single payment mutation.
type Event struct {
	ID            uuid.UUID `json:"id" bson:"event_id"`
	EventType     string    `json:"event_type" bson:"event_type"`
	EntityID      uuid.UUID `json:"entity_id" bson:"entity_id"`
	EntityURN     string    `json:"entity_urn" bson:"entity_urn"`
	Actor         Actor     `json:"actor" bson:"actor"`
	Payload       Payload   `json:"payload" bson:"payload"`
	CorrelationID string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// PaymentURN builds the canonical entity URN for a payment.
func PaymentURN(paymentID uuid.UUID) string {
	return "urn:finance:payment:" + paymentID.String()
}

// Sink records audit events. EmitTransactional must run inside the same
// database transaction as the mutation the event describes, so that both
// commit or roll back together.
type Sink interface {
	EmitTransactional(ctx context.Context, tx pgx.Tx, event *Event) error
}
