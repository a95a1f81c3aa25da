package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListFilter scopes a payment listing. TenantID is mandatory; the remaining
// fields narrow the result set.
type ListFilter struct {
	TenantID  uuid.UUID
	CompanyID *uuid.UUID
	VendorID  *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Repository defines payment persistence operations. Every read and write is
// tenant-scoped; a payment belonging to another tenant behaves exactly like a
// missing one.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)

	// GetByIdempotencyKey returns nil, nil when no payment carries the key
	// within the tenant.
	GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*Payment, error)

	// UpdateStatus persists the payment's status fields guarded by a
	// compare-and-swap on expectedVersion. Returns ErrVersionConflict when
	// the stored version has advanced.
	UpdateStatus(ctx context.Context, p *Payment, expectedVersion int64) error

	List(ctx context.Context, filter ListFilter) ([]*Payment, error)
	CountByFilter(ctx context.Context, filter ListFilter) (int64, error)

	WithTx(tx pgx.Tx) Repository
}
