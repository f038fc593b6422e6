package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

// CatalogRepository reads events owned by the catalog service. The ticket
// engine only needs an event's name and organizer.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	OrganizerID string    `bson:"organizer_id"`
	Venue       string    `bson:"venue,omitempty"`
	StartsAt    time.Time `bson:"starts_at,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d EventDoc) toDomain() *domain.Event {
	return &domain.Event{ID: d.ID, Name: d.Name, OrganizerID: d.OrganizerID}
}

func (c *CatalogRepository) LookupEvent(ctx context.Context, id string) (*domain.Event, error) {
	var doc EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	if err != nil {
		c.logger.WithError(err).WithField("event_id", id).Error("failed to get event")
		return nil, domain.Upstream(err, "get event")
	}
	return doc.toDomain(), nil
}

// UpsertEvent is used by seeding tools and integration tests.
func (c *CatalogRepository) UpsertEvent(ctx context.Context, doc EventDoc) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, optionsUpsert())
	if err != nil {
		c.logger.WithError(err).WithField("event_id", doc.ID).Error("failed to upsert event")
		return domain.Upstream(err, "upsert event")
	}
	return nil
}
