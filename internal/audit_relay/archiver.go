package audit_relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/panjf2000/ants/v2"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
	"github.com/finopshq/payment-ledger/internal/platform/messaging/consumers"
)

// Archiver consumes audit events off the stream and writes them into the
// long-term archive through a bounded worker pool. Redelivered events are
// acknowledged without rewriting: the archive dedupes on event ID.
type Archiver struct {
	archive audit.Archive
	pool    *ants.Pool
	logger  *slog.Logger
}

func NewArchiver(archive audit.Archive, poolSize int, logger *slog.Logger) (*Archiver, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create archiver worker pool: %w", err)
	}

	return &Archiver{
		archive: archive,
		pool:    pool,
		logger:  logger,
	}, nil
}

// Handler returns the message handler to register with the stream consumer.
// A returned error keeps the offset uncommitted so the event is redelivered.
func (a *Archiver) Handler() consumers.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var event audit.Event
		if err := json.Unmarshal(value, &event); err != nil {
			// An undecodable message would be redelivered forever; log
			// and acknowledge it instead.
			a.logger.Error("Discarding undecodable audit stream message",
				"key", string(key),
				"error", err,
			)
			return nil
		}

		resultChan := make(chan error, 1)
		if err := a.pool.Submit(func() {
			resultChan <- a.archiveEvent(ctx, &event)
		}); err != nil {
			a.logger.Error("Failed to submit audit event to archiver pool",
				"event_id", event.ID.String(),
				"error", err,
			)
			return err
		}

		return <-resultChan
	}
}

func (a *Archiver) archiveEvent(ctx context.Context, event *audit.Event) error {
	logger := a.logger.With("event_id", event.ID.String(), "entity_urn", event.EntityURN)
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	if err := a.archive.Save(ctx, event); err != nil {
		if errors.Is(err, audit.ErrDuplicateEvent{}) {
			logger.Info("Audit event already archived, acknowledging redelivery")
			return nil
		}
		logger.Error("Failed to archive audit event", "error", err)
		return err
	}

	logger.Info("Audit event archived")
	return nil
}

// Shutdown gracefully releases the worker pool.
func (a *Archiver) Shutdown() {
	a.logger.Info("Shutting down archiver worker pool", "running_workers", a.pool.Running())
	a.pool.Release()
}

// Running returns the number of busy workers in the pool.
func (a *Archiver) Running() int {
	return a.pool.Running()
}
