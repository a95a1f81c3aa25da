package payments

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
	"github.com/finopshq/payment-ledger/internal/domain/money"
	"github.com/finopshq/payment-ledger/internal/domain/payment"
)

// fakePaymentRepo is an in-memory payment.Repository with the same
// tenant-scoping and compare-and-swap semantics as the real one.
type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]*payment.Payment)}
}

func (r *fakePaymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.IdempotencyKey != "" {
		for _, existing := range r.payments {
			if existing.TenantID == p.TenantID && existing.IdempotencyKey == p.IdempotencyKey {
				return payment.ErrDuplicateIdempotencyKey{TenantID: p.TenantID, IdempotencyKey: p.IdempotencyKey}
			}
		}
	}

	clone := *p
	r.payments[p.ID] = &clone
	return nil
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || p.TenantID != tenantID {
		return nil, payment.ErrPaymentNotFound{PaymentID: id}
	}
	clone := *p
	return &clone, nil
}

func (r *fakePaymentRepo) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.TenantID == tenantID && p.IdempotencyKey == key {
			clone := *p
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakePaymentRepo) UpdateStatus(ctx context.Context, p *payment.Payment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[p.ID]
	if !ok || stored.TenantID != p.TenantID || stored.Version != expectedVersion {
		return payment.ErrVersionConflict{PaymentID: p.ID, ExpectedVersion: expectedVersion}
	}

	clone := *p
	r.payments[p.ID] = &clone
	return nil
}

func (r *fakePaymentRepo) List(ctx context.Context, filter payment.ListFilter) ([]*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*payment.Payment
	for _, p := range r.payments {
		if p.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}
	return result, nil
}

func (r *fakePaymentRepo) CountByFilter(ctx context.Context, filter payment.ListFilter) (int64, error) {
	payments, err := r.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(payments)), nil
}

func (r *fakePaymentRepo) WithTx(tx pgx.Tx) payment.Repository {
	return r
}

func (r *fakePaymentRepo) snapshot() map[uuid.UUID]*payment.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[uuid.UUID]*payment.Payment, len(r.payments))
	for id, p := range r.payments {
		clone := *p
		copied[id] = &clone
	}
	return copied
}

func (r *fakePaymentRepo) restore(snap map[uuid.UUID]*payment.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = snap
}

// fakeAuditSink records emitted events in memory and can be forced to fail.
type fakeAuditSink struct {
	mu      sync.Mutex
	events  []*audit.Event
	failErr error
}

func (s *fakeAuditSink) EmitTransactional(ctx context.Context, tx pgx.Tx, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return s.failErr
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeAuditSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeAuditSink) last() *audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func (s *fakeAuditSink) rollbackTo(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) > n {
		s.events = s.events[:n]
	}
}

// fakeTxRunner serializes units of work and rolls the fakes back to their
// pre-transaction state when fn fails, mirroring commit-or-rollback.
type fakeTxRunner struct {
	mu       sync.Mutex
	payments *fakePaymentRepo
	audits   *fakeAuditSink
}

func (r *fakeTxRunner) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.payments.snapshot()
	auditCount := r.audits.count()

	if err := fn(nil); err != nil {
		r.payments.restore(snap)
		r.audits.rollbackTo(auditCount)
		return err
	}
	return nil
}

type storeFixture struct {
	store    *Store
	payments *fakePaymentRepo
	audits   *fakeAuditSink
	now      time.Time
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	payments := newFakePaymentRepo()
	audits := &fakeAuditSink{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := NewStore(logger, &fakeTxRunner{payments: payments, audits: audits}, payments, audits)
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	return &storeFixture{store: store, payments: payments, audits: audits, now: now}
}

func testCreateParams(t *testing.T, tenantID uuid.UUID) CreateParams {
	t.Helper()
	amount, err := money.Parse("1500.2500", "USD")
	require.NoError(t, err)

	return CreateParams{
		TenantID:       tenantID,
		CompanyID:      uuid.New(),
		VendorID:       uuid.New(),
		Amount:         amount,
		IdempotencyKey: "invoice-2026-001",
		Actor:          audit.Actor{UserID: uuid.New(), TenantID: tenantID},
		CorrelationID:  uuid.NewString(),
	}
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates draft payment with version 1", func(t *testing.T) {
		f := newStoreFixture(t)
		params := testCreateParams(t, uuid.New())

		p, created, err := f.store.Create(ctx, params)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, payment.StatusDraft, p.Status)
		assert.Equal(t, int64(1), p.Version)
		assert.Equal(t, params.Actor.UserID, p.CreatedBy)
		assert.Equal(t, "1500.2500", p.Amount.String())

		require.Equal(t, 1, f.audits.count())
		event := f.audits.last()
		assert.Equal(t, audit.EventTypePaymentCreated, event.EventType)
		assert.Equal(t, p.ID, event.EntityID)
		assert.Equal(t, audit.PaymentURN(p.ID), event.EntityURN)
		assert.Equal(t, "CREATE", event.Payload.Action)
		assert.Equal(t, string(payment.StatusDraft), event.Payload.After)
	})

	t.Run("replays existing payment for a used idempotency key", func(t *testing.T) {
		f := newStoreFixture(t)
		params := testCreateParams(t, uuid.New())

		first, created, err := f.store.Create(ctx, params)
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := f.store.Create(ctx, params)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		// A replay writes nothing: still exactly one audit event.
		assert.Equal(t, 1, f.audits.count())
	})

	t.Run("same key in different tenants creates two payments", func(t *testing.T) {
		f := newStoreFixture(t)
		paramsA := testCreateParams(t, uuid.New())
		paramsB := testCreateParams(t, uuid.New())
		paramsB.IdempotencyKey = paramsA.IdempotencyKey

		a, created, err := f.store.Create(ctx, paramsA)
		require.NoError(t, err)
		require.True(t, created)

		b, created, err := f.store.Create(ctx, paramsB)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, 2, f.audits.count())
	})

	t.Run("audit emission failure aborts the creation", func(t *testing.T) {
		f := newStoreFixture(t)
		f.audits.failErr = errors.New("audit log unavailable")
		params := testCreateParams(t, uuid.New())

		p, created, err := f.store.Create(ctx, params)
		require.Error(t, err)
		assert.Nil(t, p)
		assert.False(t, created)

		// The rolled-back payment must not be readable.
		existing, err := f.payments.GetByIdempotencyKey(ctx, params.TenantID, params.IdempotencyKey)
		require.NoError(t, err)
		assert.Nil(t, existing)
	})

	t.Run("rejects missing tenant", func(t *testing.T) {
		f := newStoreFixture(t)
		params := testCreateParams(t, uuid.New())
		params.TenantID = uuid.Nil

		_, _, err := f.store.Create(ctx, params)
		assert.ErrorIs(t, err, payment.ErrEmptyTenant)
	})

	t.Run("rejects amount without currency", func(t *testing.T) {
		f := newStoreFixture(t)
		params := testCreateParams(t, uuid.New())
		params.Amount = money.Money{}

		_, _, err := f.store.Create(ctx, params)
		assert.ErrorIs(t, err, money.ErrMissingCurrency)
	})
}

func TestStore_Transition(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, f *storeFixture) (*payment.Payment, CreateParams) {
		t.Helper()
		params := testCreateParams(t, uuid.New())
		p, _, err := f.store.Create(ctx, params)
		require.NoError(t, err)
		return p, params
	}

	t.Run("submit advances draft and bumps version", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)

		updated, err := f.store.Transition(ctx, TransitionParams{
			TenantID:        p.TenantID,
			PaymentID:       p.ID,
			Action:          payment.ActionSubmit,
			ExpectedVersion: p.Version,
			Actor:           params.Actor,
		})
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPendingApproval, updated.Status)
		assert.Equal(t, int64(2), updated.Version)

		require.Equal(t, 2, f.audits.count())
		event := f.audits.last()
		assert.Equal(t, audit.EventTypePaymentTransitioned, event.EventType)
		assert.Equal(t, string(payment.ActionSubmit), event.Payload.Action)
		assert.Equal(t, string(payment.StatusDraft), event.Payload.Before)
		assert.Equal(t, string(payment.StatusPendingApproval), event.Payload.After)
	})

	t.Run("approve records the approver", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)

		_, err := f.store.Transition(ctx, TransitionParams{
			TenantID: p.TenantID, PaymentID: p.ID, Action: payment.ActionSubmit, Actor: params.Actor,
		})
		require.NoError(t, err)

		approver := audit.Actor{UserID: uuid.New(), TenantID: p.TenantID}
		updated, err := f.store.Transition(ctx, TransitionParams{
			TenantID: p.TenantID, PaymentID: p.ID, Action: payment.ActionApprove, Actor: approver,
		})
		require.NoError(t, err)
		assert.Equal(t, payment.StatusApproved, updated.Status)
		require.NotNil(t, updated.ApprovedBy)
		assert.Equal(t, approver.UserID, *updated.ApprovedBy)
		require.NotNil(t, updated.ApprovedAt)
		assert.Equal(t, f.now, *updated.ApprovedAt)
	})

	t.Run("illegal action writes nothing", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)

		_, err := f.store.Transition(ctx, TransitionParams{
			TenantID: p.TenantID, PaymentID: p.ID, Action: payment.ActionApprove, Actor: params.Actor,
		})
		require.Error(t, err)

		var illegalErr payment.ErrIllegalTransition
		require.ErrorAs(t, err, &illegalErr)
		assert.Equal(t, payment.StatusDraft, illegalErr.From)
		assert.Equal(t, payment.ActionApprove, illegalErr.Action)

		stored, err := f.payments.GetByID(ctx, p.TenantID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusDraft, stored.Status)
		assert.Equal(t, int64(1), stored.Version)
		assert.Equal(t, 1, f.audits.count())
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)

		_, err := f.store.Transition(ctx, TransitionParams{
			TenantID:        p.TenantID,
			PaymentID:       p.ID,
			Action:          payment.ActionSubmit,
			ExpectedVersion: 99,
			Actor:           params.Actor,
		})
		assert.ErrorIs(t, err, payment.ErrVersionConflict{})
		assert.Equal(t, 1, f.audits.count())
	})

	t.Run("cross-tenant payment behaves as missing", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)

		_, err := f.store.Transition(ctx, TransitionParams{
			TenantID: uuid.New(), PaymentID: p.ID, Action: payment.ActionSubmit, Actor: params.Actor,
		})
		assert.ErrorIs(t, err, payment.ErrPaymentNotFound{})
	})

	t.Run("audit emission failure aborts the transition", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)
		f.audits.failErr = errors.New("audit log unavailable")

		_, err := f.store.Transition(ctx, TransitionParams{
			TenantID: p.TenantID, PaymentID: p.ID, Action: payment.ActionSubmit, Actor: params.Actor,
		})
		require.Error(t, err)

		stored, err := f.payments.GetByID(ctx, p.TenantID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusDraft, stored.Status)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("concurrent transitions admit exactly one writer", func(t *testing.T) {
		f := newStoreFixture(t)
		p, params := seed(t, f)

		const writers = 8
		results := make(chan error, writers)

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.store.Transition(ctx, TransitionParams{
					TenantID:        p.TenantID,
					PaymentID:       p.ID,
					Action:          payment.ActionSubmit,
					ExpectedVersion: 1,
					Actor:           params.Actor,
				})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var successes, conflicts int
		for err := range results {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, payment.ErrVersionConflict{}):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, conflicts)

		stored, err := f.payments.GetByID(ctx, p.TenantID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPendingApproval, stored.Status)
		assert.Equal(t, int64(2), stored.Version)

		// One create plus exactly one successful transition.
		assert.Equal(t, 2, f.audits.count())
	})
}

func TestStore_GetByID(t *testing.T) {
	ctx := context.Background()
	f := newStoreFixture(t)
	params := testCreateParams(t, uuid.New())

	p, _, err := f.store.Create(ctx, params)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		got, err := f.store.GetByID(ctx, p.TenantID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("other tenant gets not found", func(t *testing.T) {
		_, err := f.store.GetByID(ctx, uuid.New(), p.ID)
		assert.ErrorIs(t, err, payment.ErrPaymentNotFound{})
	})
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	f := newStoreFixture(t)
	tenantID := uuid.New()

	for i := 0; i < 3; i++ {
		params := testCreateParams(t, tenantID)
		params.IdempotencyKey = ""
		_, _, err := f.store.Create(ctx, params)
		require.NoError(t, err)
	}

	payments, total, err := f.store.List(ctx, payment.ListFilter{TenantID: tenantID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, payments, 3)
	assert.Equal(t, int64(3), total)

	payments, total, err = f.store.List(ctx, payment.ListFilter{TenantID: uuid.New(), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Zero(t, total)
}
