package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/lumentix-tickets/internal/adapters/crdb"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

const defaultMaxAttempts = 10

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ClaimOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	RecordAttempt(ctx context.Context, tx pgx.Tx, id string, maxAttempts int) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Relay struct {
	store       Store
	broker      Broker
	logger      observability.Logger
	batch       int
	maxAttempts int
	now         func() time.Time
}

func NewRelay(store Store, broker Broker, logger observability.Logger, batch int) *Relay {
	if batch <= 0 {
		batch = 50
	}
	return &Relay{
		store:       store,
		broker:      broker,
		logger:      logger,
		batch:       batch,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
}

// RelayOnce claims a batch, publishes each record and returns how many
// were published. A record the broker rejects stays claimable until
// maxAttempts is reached.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := r.store.ClaimOutbox(ctx, tx, r.batch)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			observability.OutboxLag.Set(r.now().Sub(records[0].CreatedAt).Seconds())
		} else {
			observability.OutboxLag.Set(0)
		}
		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:    rec.DedupeKey,
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         rec.Payload,
			}
			if err := r.broker.Publish(ctx, rec.EventType, msg); err != nil {
				r.logger.WithError(err).WithField("outbox_id", rec.ID).Warn("outbox publish failed")
				if err := r.store.RecordAttempt(ctx, tx, rec.ID, r.maxAttempts); err != nil {
					return err
				}
				continue
			}
			if err := r.store.MarkPublished(ctx, tx, rec.ID, r.now().UTC()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, errors.Wrap(err, "relay outbox")
}

func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.WithError(err).Error("outbox relay failed")
				continue
			}
			if n > 0 {
				r.logger.WithField("published", n).Debug("outbox batch relayed")
			}
		}
	}
}
