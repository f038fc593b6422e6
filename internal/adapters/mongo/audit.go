package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

// AuditLogger appends lifecycle records to the audit_logs collection.
// Records are never updated or deleted.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	now    func() time.Time
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
		now:    time.Now,
	}
}

type AuditLog struct {
	ID         string    `bson:"_id"`
	Action     string    `bson:"action"`
	UserID     string    `bson:"user_id"`
	ResourceID string    `bson:"resource_id"`
	Metadata   bson.M    `bson:"metadata,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

func newAuditLog(rec domain.AuditRecord, at time.Time) AuditLog {
	return AuditLog{
		ID:         uuid.NewString(),
		Action:     rec.Action,
		UserID:     rec.UserID,
		ResourceID: rec.ResourceID,
		Metadata:   bson.M(rec.Metadata),
		CreatedAt:  at.UTC(),
	}
}

func (a *AuditLogger) Append(ctx context.Context, rec domain.AuditRecord) error {
	if rec.Action == "" {
		return errors.Wrap(domain.ErrInvalidInput, "audit action is required")
	}
	_, err := a.coll.InsertOne(ctx, newAuditLog(rec, a.now()))
	if err != nil {
		a.logger.WithError(err).WithField("action", rec.Action).Error("failed to insert audit log")
		return domain.Upstream(err, "insert audit log")
	}
	return nil
}

// EnsureIndexes creates the lookup indexes used by support tooling.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return errors.Wrap(err, "create audit indexes")
}
