// Package audit_relay moves committed audit events from the dispatch queue to
// the Kafka audit stream and drains the stream into the MongoDB archive. The
// queue is written transactionally with each payment mutation, so the relay
// delivers every event at least once; the archive dedupes on event ID.
package audit_relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finopshq/payment-ledger/internal/config"
	"github.com/finopshq/payment-ledger/internal/domain/audit"
	"github.com/finopshq/payment-ledger/internal/platform/messaging/producers"
)

// Poller drains pending audit dispatch records to the audit stream.
type Poller struct {
	queue        audit.DispatchQueue
	publisher    producers.MessagePublisher
	dlqPublisher producers.DeadLetterPublisher
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
}

func NewPoller(
	cfg *config.AuditRelayConfig,
	queue audit.DispatchQueue,
	publisher producers.MessagePublisher,
	dlqPublisher producers.DeadLetterPublisher,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		queue:        queue,
		publisher:    publisher,
		dlqPublisher: dlqPublisher,
		logger:       logger,
		pollInterval: cfg.PollingInterval,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxDispatchAttempts,
	}
}

// Start begins polling until the context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting audit dispatch poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_dispatch_attempts", p.maxAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Audit dispatch poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.logger.Debug("Audit dispatch poller tick: processing pending events")
			if err := p.processPending(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending audit events", "error", err)
			}
		}
	}
}

func (p *Poller) processPending(ctx context.Context) error {
	records, err := p.queue.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending audit events: %w", err)
	}

	if len(records) == 0 {
		p.logger.Debug("No pending audit events found.")
		return nil
	}

	p.logger.Info("Fetched pending audit events", "count", len(records))

	for _, record := range records {
		p.dispatch(ctx, record)
	}
	return nil
}

// dispatch publishes one record and advances its queue state. Failed records
// stay PENDING until maxAttempts, then go to the DLQ and FAILED_TO_DISPATCH.
func (p *Poller) dispatch(ctx context.Context, record *audit.DispatchRecord) {
	logger := p.logger.With("dispatch_id", record.ID, "event_id", record.EventID.String())

	event, err := record.DecodeEvent()
	if err != nil {
		logger.Error("Failed to decode queued audit event, parking on DLQ", "error", err)
		p.parkOnDLQ(ctx, record, fmt.Sprintf("undecodable audit event payload: %v", err))
		return
	}
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	if err := p.publisher.Publish(ctx, record.EntityURN, event); err != nil {
		logger.Error("Failed to publish audit event to stream",
			"current_attempts", record.Attempts, "error", err,
		)

		if errInc := p.queue.IncrementAttempts(ctx, record.ID); errInc != nil {
			logger.Error("Failed to increment attempts for audit event", "error", errInc)
			return
		}

		if record.Attempts+1 >= p.maxAttempts {
			logger.Warn("Max dispatch attempts reached for audit event, parking on DLQ",
				"attempts_made", record.Attempts+1,
			)
			p.parkOnDLQ(ctx, record, "max dispatch attempts exceeded")
		}
		return
	}

	if err := p.queue.MarkDispatched(ctx, record.ID); err != nil {
		// The event will be re-published on the next tick; consumers
		// dedupe on event ID.
		logger.Error("Published audit event but failed to mark it dispatched", "error", err)
		return
	}
	logger.Info("Audit event dispatched to stream")
}

func (p *Poller) parkOnDLQ(ctx context.Context, record *audit.DispatchRecord, reason string) {
	if p.dlqPublisher != nil {
		if err := p.dlqPublisher.PublishToDLQ(ctx, record.EntityURN, record.Payload, reason); err != nil {
			p.logger.Error("Failed to park audit event on DLQ", "dispatch_id", record.ID, "error", err)
			return
		}
	}
	if err := p.queue.MarkFailed(ctx, record.ID); err != nil {
		p.logger.Error("Failed to mark audit event as failed", "dispatch_id", record.ID, "error", err)
	}
}
