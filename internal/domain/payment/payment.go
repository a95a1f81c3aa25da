// Package payment holds the payment record, its lifecycle state machine and
// the persistence contract. A payment's financial fields are immutable once it
// reaches an approved state; afterwards only the status and its bookkeeping
// fields may change, each mutation bumping the version counter by one.
package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/finopshq/payment-ledger/internal/domain/money"
)

// Common errors
var (
	ErrEmptyTenant   = errors.New("tenant ID is required")
	ErrEmptyVendor   = errors.New("vendor ID is required")
	ErrEmptyCreator  = errors.New("creator user ID is required")
	ErrUnknownStatus = errors.New("unknown payment status")
)

// Payment is a single money movement owned by a tenant. Version starts at 1
// and increases by exactly 1 per successful mutation; it backs the optimistic
// concurrency check in the store. Payments are never deleted: terminal
// statuses are retained.
type Payment struct {
	ID             uuid.UUID   `json:"id"`
	TenantID       uuid.UUID   `json:"tenant_id"`
	CompanyID      uuid.UUID   `json:"company_id"`
	VendorID       uuid.UUID   `json:"vendor_id"`
	Amount         money.Money `json:"amount"`
	Status         Status      `json:"status"`
	Version        int64       `json:"version"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CreatedBy      uuid.UUID   `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	ApprovedBy     *uuid.UUID  `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time  `json:"approved_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ValidStatus reports whether s is one of the defined lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusProcessing,
		StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// ErrIllegalTransition indicates a (status, action) pair absent from the
// transition table.
type ErrIllegalTransition struct {
	From   Status
	Action Action
}

func (e ErrIllegalTransition) Error() string {
	return "illegal state transition: action " + string(e.Action) + " from status " + string(e.From)
}

// Is matches any ErrIllegalTransition when the target carries zero values,
// otherwise it matches on both fields.
func (e ErrIllegalTransition) Is(target error) bool {
	t, ok := target.(ErrIllegalTransition)
	if !ok {
		return false
	}
	if t.From == "" && t.Action == "" {
		return true
	}
	return e.From == t.From && e.Action == t.Action
}

// ErrVersionConflict indicates a lost optimistic concurrency race: the stored
// version advanced between read and write. Callers should re-read and retry.
type ErrVersionConflict struct {
	PaymentID       uuid.UUID
	ExpectedVersion int64
}

func (e ErrVersionConflict) Error() string {
	return "version conflict on payment: " + e.PaymentID.String()
}

// Is matches any ErrVersionConflict when the target carries a nil payment ID.
func (e ErrVersionConflict) Is(target error) bool {
	t, ok := target.(ErrVersionConflict)
	if !ok {
		return false
	}
	if t.PaymentID == uuid.Nil {
		return true
	}
	return e.PaymentID == t.PaymentID
}

// ErrPaymentNotFound indicates a missing payment. Lookups are tenant-scoped,
// so a payment owned by another tenant surfaces as this error too; the two
// cases are deliberately indistinguishable.
type ErrPaymentNotFound struct {
	PaymentID uuid.UUID
}

func (e ErrPaymentNotFound) Error() string {
	return "payment not found: " + e.PaymentID.String()
}

// Is matches any ErrPaymentNotFound when the target carries a nil payment ID.
func (e ErrPaymentNotFound) Is(target error) bool {
	t, ok := target.(ErrPaymentNotFound)
	if !ok {
		return false
	}
	if t.PaymentID == uuid.Nil {
		return true
	}
	return e.PaymentID == t.PaymentID
}

// ErrDuplicateIdempotencyKey indicates the per-tenant idempotency key
// uniqueness constraint was violated by a concurrent create.
type ErrDuplicateIdempotencyKey struct {
	TenantID       uuid.UUID
	IdempotencyKey string
}

func (e ErrDuplicateIdempotencyKey) Error() string {
	return "idempotency key already used within tenant: " + e.IdempotencyKey
}

// Is matches any ErrDuplicateIdempotencyKey when the target carries an empty key.
func (e ErrDuplicateIdempotencyKey) Is(target error) bool {
	t, ok := target.(ErrDuplicateIdempotencyKey)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.TenantID == t.TenantID && e.IdempotencyKey == t.IdempotencyKey
}
