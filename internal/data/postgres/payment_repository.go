// Package postgres provides PostgreSQL implementations of the domain
// repositories. Every payment query is tenant-scoped and status updates are
// guarded by a compare-and-swap on the version counter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finopshq/payment-ledger/internal/domain/money"
	"github.com/finopshq/payment-ledger/internal/domain/payment"
	"github.com/finopshq/payment-ledger/internal/platform/persistence"
)

const uniqueViolationCode = "23505"

// paymentColumns is the shared select list; amount is cast to text so it can
// be parsed back into an exact decimal.
const paymentColumns = `id, tenant_id, company_id, vendor_id, amount::text, currency, status, version,
		idempotency_key, created_by, created_at, approved_by, approved_at, updated_at`

// PaymentRepository implements the payment.Repository interface for PostgreSQL
type PaymentRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(logger *slog.Logger, db *persistence.PostgresDB) payment.Repository {
	return &PaymentRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so multiple repository calls
// commit or roll back as one atomic unit.
func (r *PaymentRepository) WithTx(tx pgx.Tx) payment.Repository {
	return &PaymentRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new payment. A duplicate (tenant_id, idempotency_key) pair
// surfaces as ErrDuplicateIdempotencyKey via the partial unique index.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments (id, tenant_id, company_id, vendor_id, amount, currency, status, version,
			idempotency_key, created_by, created_at, approved_by, approved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.querier.Exec(ctx, query,
		p.ID,
		p.TenantID,
		p.CompanyID,
		p.VendorID,
		p.Amount.String(),
		p.Amount.Currency(),
		p.Status,
		p.Version,
		nullableKey(p.IdempotencyKey),
		p.CreatedBy,
		p.CreatedAt,
		p.ApprovedBy,
		p.ApprovedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return payment.ErrDuplicateIdempotencyKey{TenantID: p.TenantID, IdempotencyKey: p.IdempotencyKey}
		}
		r.logger.Error("Failed to create payment", "payment_id", p.ID.String(), "error", err)
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment scoped to the given tenant. A payment owned by
// another tenant is reported as not found.
func (r *PaymentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1 AND tenant_id = $2
	`

	p, err := r.scanPayment(r.querier.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrPaymentNotFound{PaymentID: id}
		}
		r.logger.Error("Failed to get payment", "payment_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return p, nil
}

// GetByIdempotencyKey retrieves a payment by its idempotency key within a
// tenant. Returns nil, nil when no payment carries the key.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*payment.Payment, error) {
	if key == "" {
		return nil, errors.New("idempotency key cannot be empty")
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND idempotency_key = $2
	`

	p, err := r.scanPayment(r.querier.QueryRow(ctx, query, tenantID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No payment with this idempotency key
		}
		r.logger.Error("Failed to get payment by idempotency key", "idempotency_key", key, "error", err)
		return nil, fmt.Errorf("failed to get payment by idempotency key: %w", err)
	}

	return p, nil
}

// UpdateStatus persists the status fields of p guarded by a compare-and-swap
// on expectedVersion. Zero affected rows means a concurrent writer advanced
// the version first.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, p *payment.Payment, expectedVersion int64) error {
	query := `
		UPDATE payments
		SET status = $1, version = $2, approved_by = $3, approved_at = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7 AND version = $8
	`

	result, err := r.querier.Exec(ctx, query,
		p.Status,
		p.Version,
		p.ApprovedBy,
		p.ApprovedAt,
		p.UpdatedAt,
		p.ID,
		p.TenantID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update payment status", "payment_id", p.ID.String(), "error", err)
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return payment.ErrVersionConflict{PaymentID: p.ID, ExpectedVersion: expectedVersion}
	}

	return nil
}

// List retrieves payments matching the filter, newest first. The tenant scope
// is always applied.
func (r *PaymentRepository) List(ctx context.Context, filter payment.ListFilter) ([]*payment.Payment, error) {
	where, args := buildFilterClauses(filter)

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE ` + where + `
		ORDER BY created_at DESC
		LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list payments", "tenant_id", filter.TenantID.String(), "error", err)
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			r.logger.Error("Failed to scan payment row", "error", err)
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over payments", "error", err)
		return nil, fmt.Errorf("error iterating over payments: %w", err)
	}

	return payments, nil
}

// CountByFilter counts payments matching the filter within its tenant scope.
func (r *PaymentRepository) CountByFilter(ctx context.Context, filter payment.ListFilter) (int64, error) {
	where, args := buildFilterClauses(filter)

	query := `SELECT COUNT(*) FROM payments WHERE ` + where

	var count int64
	if err := r.querier.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		r.logger.Error("Failed to count payments", "tenant_id", filter.TenantID.String(), "error", err)
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}

	return count, nil
}

// buildFilterClauses renders the WHERE clause for a ListFilter. The tenant
// predicate is always first and always present.
func buildFilterClauses(filter payment.ListFilter) (string, []interface{}) {
	clauses := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}

	next := func() string { return "$" + strconv.Itoa(len(args)+1) }

	if filter.CompanyID != nil {
		clauses = append(clauses, "company_id = "+next())
		args = append(args, *filter.CompanyID)
	}
	if filter.VendorID != nil {
		clauses = append(clauses, "vendor_id = "+next())
		args = append(args, *filter.VendorID)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = "+next())
		args = append(args, *filter.Status)
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= "+next())
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at < "+next())
		args = append(args, *filter.To)
	}

	return strings.Join(clauses, " AND "), args
}

// scanPayment reads one payment row, rebuilding the exact Money value from the
// text representation of the amount column.
func (r *PaymentRepository) scanPayment(row pgx.Row) (*payment.Payment, error) {
	var (
		p          payment.Payment
		amountText string
		currency   string
		key        *string
		approvedBy *uuid.UUID
		approvedAt *time.Time
	)

	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.CompanyID,
		&p.VendorID,
		&amountText,
		&currency,
		&p.Status,
		&p.Version,
		&key,
		&p.CreatedBy,
		&p.CreatedAt,
		&approvedBy,
		&approvedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := money.Parse(amountText, currency)
	if err != nil {
		return nil, fmt.Errorf("stored amount %q is not a valid money value: %w", amountText, err)
	}

	p.Amount = amount
	if key != nil {
		p.IdempotencyKey = *key
	}
	p.ApprovedBy = approvedBy
	p.ApprovedAt = approvedAt

	return &p, nil
}

func nullableKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}
