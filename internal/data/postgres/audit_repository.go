package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
	"github.com/finopshq/payment-ledger/internal/platform/persistence"
)

// AuditRepository implements both audit.Sink and audit.DispatchQueue for
// PostgreSQL. Events are written into payment_audit_events inside the same
// transaction as the mutation they describe, then relayed asynchronously.
type AuditRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(logger *slog.Logger, db *persistence.PostgresDB) *AuditRepository {
	return &AuditRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

var _ audit.Sink = (*AuditRepository)(nil)
var _ audit.DispatchQueue = (*AuditRepository)(nil)

// EmitTransactional records an audit event using the caller's transaction so
// that the event and the data mutation commit or roll back together. The
// event row starts in PENDING status for the relay to pick up.
func (r *AuditRepository) EmitTransactional(ctx context.Context, tx pgx.Tx, event *audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	query := `
		INSERT INTO payment_audit_events (event_id, event_type, entity_id, entity_urn, correlation_id, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.Exec(ctx, query,
		event.ID,
		event.EventType,
		event.EntityID,
		event.EntityURN,
		event.CorrelationID,
		payload,
		audit.DispatchStatusPending,
		0,
		event.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record audit event",
			"event_id", event.ID.String(),
			"entity_urn", event.EntityURN,
			"error", err,
		)
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	return nil
}

// GetPending retrieves a batch of pending audit events ordered by creation
// time so the relay dispatches them in FIFO order.
func (r *AuditRepository) GetPending(ctx context.Context, limit int) ([]*audit.DispatchRecord, error) {
	query := `
		SELECT id, event_id, entity_id, entity_urn, payload, status, attempts, created_at, last_attempt_at
		FROM payment_audit_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, audit.DispatchStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to get pending audit events", "error", err)
		return nil, fmt.Errorf("failed to get pending audit events: %w", err)
	}
	defer rows.Close()

	var records []*audit.DispatchRecord
	for rows.Next() {
		var record audit.DispatchRecord
		err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.EntityID,
			&record.EntityURN,
			&record.Payload,
			&record.Status,
			&record.Attempts,
			&record.CreatedAt,
			&record.LastAttemptAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan audit dispatch record", "error", err)
			return nil, fmt.Errorf("failed to scan audit dispatch record: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over audit dispatch records", "error", err)
		return nil, fmt.Errorf("error iterating over audit dispatch records: %w", err)
	}

	return records, nil
}

// MarkDispatched marks an event as delivered to the audit stream.
func (r *AuditRepository) MarkDispatched(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, audit.DispatchStatusSent)
}

// MarkFailed marks an event as undeliverable after exhausting retries.
func (r *AuditRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, audit.DispatchStatusFailed)
}

func (r *AuditRepository) setStatus(ctx context.Context, id int64, status audit.DispatchStatus) error {
	query := `
		UPDATE payment_audit_events
		SET status = $1, last_attempt_at = $2
		WHERE id = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update audit dispatch status",
			"id", id,
			"status", string(status),
			"error", err,
		)
		return fmt.Errorf("failed to update audit dispatch status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return audit.ErrRecordNotFound{ID: id}
	}

	return nil
}

// IncrementAttempts increments the dispatch counter and updates the last
// attempt time after a failed delivery.
func (r *AuditRepository) IncrementAttempts(ctx context.Context, id int64) error {
	query := `
		UPDATE payment_audit_events
		SET attempts = attempts + 1, last_attempt_at = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to increment audit dispatch attempts",
			"id", id,
			"error", err,
		)
		return fmt.Errorf("failed to increment audit dispatch attempts: %w", err)
	}

	if result.RowsAffected() == 0 {
		return audit.ErrRecordNotFound{ID: id}
	}

	return nil
}
