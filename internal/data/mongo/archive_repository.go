// Package mongo provides the MongoDB audit archive: the append-only, queryable
// long-term store of audit events relayed off the dispatch queue.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
)

const (
	// ArchiveCollectionName is the name of the audit archive collection in MongoDB
	ArchiveCollectionName = "audit_events"
)

// ArchiveRepository implements the audit.Archive interface for MongoDB
type ArchiveRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewArchiveRepository creates a new MongoDB audit archive repository
func NewArchiveRepository(logger *slog.Logger, db *mongo.Database) audit.Archive {
	return &ArchiveRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores an audit event after checking for duplicates. Returns
// ErrDuplicateEvent when the event ID is already archived, which redelivery
// handlers treat as success.
func (r *ArchiveRepository) Save(ctx context.Context, event *audit.Event) error {
	collection := r.db.Collection(ArchiveCollectionName)

	existing, err := r.GetByEventID(ctx, event.ID)
	if err != nil && !errors.Is(err, audit.ErrEventNotFound{}) {
		r.logger.Error("Failed to check for existing archived event",
			"event_id", event.ID.String(),
			"error", err)
		return fmt.Errorf("failed to check for existing archived event: %w", err)
	}

	if existing != nil {
		return audit.ErrDuplicateEvent{EventID: event.ID}
	}

	_, err = collection.InsertOne(ctx, event)
	if err != nil {
		r.logger.Error("Failed to archive audit event",
			"event_id", event.ID.String(),
			"error", err)
		return fmt.Errorf("failed to archive audit event: %w", err)
	}

	return nil
}

// GetByEventID retrieves an archived event by its ID.
// Returns ErrEventNotFound if no such event was archived.
func (r *ArchiveRepository) GetByEventID(ctx context.Context, eventID uuid.UUID) (*audit.Event, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{"event_id": eventID}
	var event audit.Event
	err := collection.FindOne(ctx, filter).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, audit.ErrEventNotFound{EventID: eventID}
		}
		r.logger.Error("Failed to get archived event",
			"event_id", eventID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get archived event: %w", err)
	}

	return &event, nil
}

// GetByEntityURN retrieves the paginated audit trail of one entity within a
// tenant. Results are sorted by creation time in descending order.
func (r *ArchiveRepository) GetByEntityURN(ctx context.Context, tenantID uuid.UUID, entityURN string, limit, offset int) ([]*audit.Event, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{
		"entity_urn":      entityURN,
		"actor.tenant_id": tenantID,
	}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get archived events",
			"entity_urn", entityURN,
			"error", err)
		return nil, fmt.Errorf("failed to get archived events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*audit.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode archived events",
			"entity_urn", entityURN,
			"error", err)
		return nil, fmt.Errorf("failed to decode archived events: %w", err)
	}

	return events, nil
}

// CountByEntityURN counts the archived events of one entity within a tenant
func (r *ArchiveRepository) CountByEntityURN(ctx context.Context, tenantID uuid.UUID, entityURN string) (int64, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{
		"entity_urn":      entityURN,
		"actor.tenant_id": tenantID,
	}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		r.logger.Error("Failed to count archived events",
			"entity_urn", entityURN,
			"error", err)
		return 0, fmt.Errorf("failed to count archived events: %w", err)
	}

	return count, nil
}

// GetByTimeRange retrieves paginated archived events of a tenant within the
// specified time window, newest first.
func (r *ArchiveRepository) GetByTimeRange(ctx context.Context, tenantID uuid.UUID, start, end time.Time, limit, offset int) ([]*audit.Event, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{
		"actor.tenant_id": tenantID,
		"created_at": bson.M{
			"$gte": start,
			"$lte": end,
		},
	}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get archived events by time range",
			"start", start,
			"end", end,
			"error", err)
		return nil, fmt.Errorf("failed to get archived events by time range: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*audit.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode archived events",
			"start", start,
			"end", end,
			"error", err)
		return nil, fmt.Errorf("failed to decode archived events: %w", err)
	}

	return events, nil
}
