// Package payments implements the payment record store: idempotent creation,
// optimistic-concurrency status transitions and tenant-scoped reads. Every
// mutation and its audit event commit in one database transaction.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
	"github.com/finopshq/payment-ledger/internal/domain/money"
	"github.com/finopshq/payment-ledger/internal/domain/payment"
	"github.com/finopshq/payment-ledger/internal/platform/persistence"
)

// CreateParams carries everything needed to record a new payment. The creator
// is taken from Actor.UserID.
type CreateParams struct {
	TenantID       uuid.UUID
	CompanyID      uuid.UUID
	VendorID       uuid.UUID
	Amount         money.Money
	IdempotencyKey string
	Actor          audit.Actor
	CorrelationID  string
}

// TransitionParams carries a lifecycle action request. ExpectedVersion is the
// version the caller last read; zero means "use the version read inside the
// transaction", which still guards against writers racing after that read.
type TransitionParams struct {
	TenantID        uuid.UUID
	PaymentID       uuid.UUID
	Action          payment.Action
	ExpectedVersion int64
	Actor           audit.Actor
	CorrelationID   string
}

// Store coordinates payment persistence with transactional audit emission.
type Store struct {
	txRunner persistence.TxRunner
	payments payment.Repository
	audits   audit.Sink
	logger   *slog.Logger
	now      func() time.Time
	newID    func() uuid.UUID
}

// NewStore creates a payment store backed by the given repositories.
func NewStore(logger *slog.Logger, txRunner persistence.TxRunner, payments payment.Repository, audits audit.Sink) *Store {
	return &Store{
		txRunner: txRunner,
		payments: payments,
		audits:   audits,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.New,
	}
}

// Create records a new payment in DRAFT status with version 1. When params
// carries an idempotency key already used within the tenant, the existing
// payment is returned instead and no new record or audit event is written.
// The returned bool reports whether a payment was actually created.
func (s *Store) Create(ctx context.Context, params CreateParams) (*payment.Payment, bool, error) {
	if err := validateCreateParams(params); err != nil {
		return nil, false, err
	}

	if params.IdempotencyKey != "" {
		existing, err := s.payments.GetByIdempotencyKey(ctx, params.TenantID, params.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			s.logger.Info("Idempotent create replayed",
				"tenant_id", params.TenantID.String(),
				"payment_id", existing.ID.String(),
				"idempotency_key", params.IdempotencyKey,
			)
			return existing, false, nil
		}
	}

	now := s.now()
	p := &payment.Payment{
		ID:             s.newID(),
		TenantID:       params.TenantID,
		CompanyID:      params.CompanyID,
		VendorID:       params.VendorID,
		Amount:         params.Amount,
		Status:         payment.StatusDraft,
		Version:        1,
		IdempotencyKey: params.IdempotencyKey,
		CreatedBy:      params.Actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := s.payments.WithTx(tx).Create(ctx, p); err != nil {
			return err
		}

		event := s.newEvent(audit.EventTypePaymentCreated, p, params.Actor, params.CorrelationID, audit.Payload{
			Action: "CREATE",
			After:  string(p.Status),
		})
		return s.audits.EmitTransactional(ctx, tx, event)
	})
	if err != nil {
		// Lost a concurrent create race on the same key: the winner's
		// payment is the idempotent result.
		if errors.Is(err, payment.ErrDuplicateIdempotencyKey{}) && params.IdempotencyKey != "" {
			existing, getErr := s.payments.GetByIdempotencyKey(ctx, params.TenantID, params.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.logger.Info("Payment created",
		"tenant_id", p.TenantID.String(),
		"payment_id", p.ID.String(),
		"amount", p.Amount.String(),
		"currency", p.Amount.Currency(),
	)
	return p, true, nil
}

// Transition applies a lifecycle action to a payment under optimistic
// concurrency control. The status change, version bump and audit event commit
// atomically; any concurrent writer that advanced the version first surfaces
// as ErrVersionConflict with nothing written.
func (s *Store) Transition(ctx context.Context, params TransitionParams) (*payment.Payment, error) {
	var updated *payment.Payment

	err := s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repoTx := s.payments.WithTx(tx)

		p, err := repoTx.GetByID(ctx, params.TenantID, params.PaymentID)
		if err != nil {
			return err
		}

		expected := params.ExpectedVersion
		if expected == 0 {
			expected = p.Version
		}
		if expected != p.Version {
			return payment.ErrVersionConflict{PaymentID: p.ID, ExpectedVersion: expected}
		}

		before := p.Status
		next, err := payment.NextStatus(before, params.Action)
		if err != nil {
			return err
		}

		now := s.now()
		p.Status = next
		p.Version = expected + 1
		p.UpdatedAt = now
		if params.Action == payment.ActionApprove {
			approver := params.Actor.UserID
			p.ApprovedBy = &approver
			p.ApprovedAt = &now
		}

		if err := repoTx.UpdateStatus(ctx, p, expected); err != nil {
			return err
		}

		event := s.newEvent(audit.EventTypePaymentTransitioned, p, params.Actor, params.CorrelationID, audit.Payload{
			Action: string(params.Action),
			Before: string(before),
			After:  string(next),
		})
		if err := s.audits.EmitTransactional(ctx, tx, event); err != nil {
			return err
		}

		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment transitioned",
		"tenant_id", updated.TenantID.String(),
		"payment_id", updated.ID.String(),
		"action", string(params.Action),
		"status", string(updated.Status),
		"version", updated.Version,
	)
	return updated, nil
}

// GetByID retrieves a payment scoped to the tenant.
func (s *Store) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*payment.Payment, error) {
	return s.payments.GetByID(ctx, tenantID, id)
}

// GetByIdempotencyKey retrieves the payment created under the given key within
// the tenant, or nil when the key has not been used.
func (s *Store) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*payment.Payment, error) {
	return s.payments.GetByIdempotencyKey(ctx, tenantID, key)
}

// List retrieves payments matching the filter along with the total count of
// matches ignoring pagination.
func (s *Store) List(ctx context.Context, filter payment.ListFilter) ([]*payment.Payment, int64, error) {
	payments, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.payments.CountByFilter(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	return payments, total, nil
}

func (s *Store) newEvent(eventType string, p *payment.Payment, actor audit.Actor, correlationID string, payload audit.Payload) *audit.Event {
	if actor.TenantID == uuid.Nil {
		actor.TenantID = p.TenantID
	}
	return &audit.Event{
		ID:            s.newID(),
		EventType:     eventType,
		EntityID:      p.ID,
		EntityURN:     audit.PaymentURN(p.ID),
		Actor:         actor,
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     s.now(),
	}
}

func validateCreateParams(params CreateParams) error {
	if params.TenantID == uuid.Nil {
		return payment.ErrEmptyTenant
	}
	if params.VendorID == uuid.Nil {
		return payment.ErrEmptyVendor
	}
	if params.Actor.UserID == uuid.Nil {
		return payment.ErrEmptyCreator
	}
	if params.Amount.Currency() == "" {
		return fmt.Errorf("invalid payment amount: %w", money.ErrMissingCurrency)
	}
	return nil
}
