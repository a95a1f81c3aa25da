package audit_relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
)

// MockArchive for testing
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Save(ctx context.Context, event *audit.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockArchive) GetByEventID(ctx context.Context, eventID uuid.UUID) (*audit.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.Event), args.Error(1)
}

func (m *MockArchive) GetByEntityURN(ctx context.Context, tenantID uuid.UUID, entityURN string, limit, offset int) ([]*audit.Event, error) {
	args := m.Called(ctx, tenantID, entityURN, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Event), args.Error(1)
}

func (m *MockArchive) CountByEntityURN(ctx context.Context, tenantID uuid.UUID, entityURN string) (int64, error) {
	args := m.Called(ctx, tenantID, entityURN)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockArchive) GetByTimeRange(ctx context.Context, tenantID uuid.UUID, start, end time.Time, limit, offset int) ([]*audit.Event, error) {
	args := m.Called(ctx, tenantID, start, end, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Event), args.Error(1)
}

func streamMessage(t *testing.T) (*audit.Event, []byte) {
	t.Helper()

	paymentID := uuid.New()
	event := &audit.Event{
		ID:        uuid.New(),
		EventType: audit.EventTypePaymentTransitioned,
		EntityID:  paymentID,
		EntityURN: audit.PaymentURN(paymentID),
		Actor:     audit.Actor{UserID: uuid.New(), TenantID: uuid.New()},
		Payload:   audit.Payload{Action: "SUBMIT", Before: "DRAFT", After: "PENDING_APPROVAL"},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return event, value
}

func TestArchiver_Handler(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	t.Run("archives a stream event", func(t *testing.T) {
		archive := &MockArchive{}
		archiver, err := NewArchiver(archive, 2, logger)
		require.NoError(t, err)
		defer archiver.Shutdown()

		event, value := streamMessage(t)
		archive.On("Save", mock.Anything, mock.MatchedBy(func(saved *audit.Event) bool {
			return saved.ID == event.ID && saved.EntityURN == event.EntityURN
		})).Return(nil).Once()

		err = archiver.Handler()(ctx, []byte(event.EntityURN), value)
		assert.NoError(t, err)
		archive.AssertExpectations(t)
	})

	t.Run("acknowledges redelivered duplicates", func(t *testing.T) {
		archive := &MockArchive{}
		archiver, err := NewArchiver(archive, 2, logger)
		require.NoError(t, err)
		defer archiver.Shutdown()

		event, value := streamMessage(t)
		archive.On("Save", mock.Anything, mock.Anything).Return(audit.ErrDuplicateEvent{EventID: event.ID}).Once()

		err = archiver.Handler()(ctx, []byte(event.EntityURN), value)
		assert.NoError(t, err, "duplicate archive writes must be acknowledged")
		archive.AssertExpectations(t)
	})

	t.Run("archive failure keeps the offset uncommitted", func(t *testing.T) {
		archive := &MockArchive{}
		archiver, err := NewArchiver(archive, 2, logger)
		require.NoError(t, err)
		defer archiver.Shutdown()

		event, value := streamMessage(t)
		archiveErr := errors.New("mongo unavailable")
		archive.On("Save", mock.Anything, mock.Anything).Return(archiveErr).Once()

		err = archiver.Handler()(ctx, []byte(event.EntityURN), value)
		assert.ErrorIs(t, err, archiveErr)
		archive.AssertExpectations(t)
	})

	t.Run("discards undecodable messages", func(t *testing.T) {
		archive := &MockArchive{}
		archiver, err := NewArchiver(archive, 2, logger)
		require.NoError(t, err)
		defer archiver.Shutdown()

		err = archiver.Handler()(ctx, []byte("key"), []byte("not json"))
		assert.NoError(t, err)
		archive.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})
}
