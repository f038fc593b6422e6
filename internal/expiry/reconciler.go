// Package expiry fails pending payments whose settlement window closed
// without a confirmation.
package expiry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/lumentix-tickets/internal/adapters/rabbit"
	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

type PaymentStore interface {
	// ExpiredPendingPayments pages through overdue pending payments in
	// (expires_at, id) order, starting after the cursor.
	ExpiredPendingPayments(ctx context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]domain.Payment, error)
	// MarkPaymentFailed moves a pending payment to failed and returns
	// domain.ErrConflict when the payment is no longer pending.
	MarkPaymentFailed(ctx context.Context, id string) error
}

type Auditor interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, key, messageID string, v interface{}) error
}

type Result struct {
	Expired int
	Skipped int
	Failed  int
}

type PaymentExpired struct {
	PaymentID string    `json:"payment_id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Reconciler struct {
	store     PaymentStore
	auditor   Auditor
	publisher Publisher
	logger    observability.Logger

	now     func() time.Time
	retries int
	backoff time.Duration
	batch   int
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithRetries sets how many times a row update is attempted and the delay
// before the first retry. The delay doubles on each retry.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(r *Reconciler) {
		if attempts > 0 {
			r.retries = attempts
		}
		if backoff >= 0 {
			r.backoff = backoff
		}
	}
}

func WithBatch(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batch = n
		}
	}
}

// New builds a reconciler. auditor and publisher may be nil.
func New(store PaymentStore, auditor Auditor, publisher Publisher, logger observability.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Reconciler{
		store:     store,
		auditor:   auditor,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		retries:   3,
		backoff:   time.Second,
		batch:     500,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep fails every pending payment whose expiry is strictly before now.
// Candidates are paged by keyset, so rows that keep failing never hide the
// ones queued behind them. Only a failure to list candidates fails the
// sweep; per-row failures are logged and counted.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	var (
		res    Result
		cursor domain.ExpiryCursor
	)
	now := r.now().UTC()

	for {
		payments, err := r.store.ExpiredPendingPayments(ctx, now, cursor, r.batch)
		if err != nil {
			return res, errors.Wrap(err, "select expired payments")
		}
		for _, p := range payments {
			r.expire(ctx, p, &res)
			if ctx.Err() != nil {
				return res, nil
			}
		}
		if len(payments) < r.batch {
			return res, nil
		}
		cursor = domain.CursorAfter(payments[len(payments)-1])
	}
}

func (r *Reconciler) expire(ctx context.Context, p domain.Payment, res *Result) {
	err := r.markFailed(ctx, p.ID)
	switch {
	case err == nil:
		res.Expired++
		observability.PaymentsExpired.WithLabelValues("expired").Inc()
		r.announce(ctx, p)
	case errors.Is(err, domain.ErrConflict):
		// Settled or expired by another replica since the select.
		res.Skipped++
		observability.PaymentsExpired.WithLabelValues("skipped").Inc()
	default:
		res.Failed++
		observability.PaymentsExpired.WithLabelValues("failed").Inc()
		r.logger.WithField("payment_id", p.ID).WithError(err).Error("failed to expire payment")
	}
}

func (r *Reconciler) markFailed(ctx context.Context, id string) error {
	delay := r.backoff
	var err error
	for attempt := 1; attempt <= r.retries; attempt++ {
		err = r.store.MarkPaymentFailed(ctx, id)
		if err == nil || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if attempt == r.retries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.WithSecondaryError(ctx.Err(), err)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return errors.Wrapf(err, "after %d attempts", r.retries)
}

// announce writes the audit record and the payment.expired event. Neither
// can undo the status change, so failures are only logged.
func (r *Reconciler) announce(ctx context.Context, p domain.Payment) {
	log := r.logger.WithField("payment_id", p.ID)
	meta := map[string]interface{}{"eventId": p.EventID}
	var expiresAt time.Time
	if p.ExpiresAt != nil {
		expiresAt = p.ExpiresAt.UTC()
		meta["expiresAt"] = expiresAt.Format(time.RFC3339)
	}

	if r.auditor != nil {
		err := r.auditor.Append(ctx, domain.AuditRecord{
			Action:     domain.AuditPaymentExpired,
			UserID:     p.UserID,
			ResourceID: p.ID,
			Metadata:   meta,
		})
		if err != nil {
			log.WithError(err).Warn("failed to audit payment expiry")
		}
	}
	if r.publisher != nil {
		err := r.publisher.PublishJSON(ctx, rabbit.KeyPaymentExpired, rabbit.KeyPaymentExpired+":"+p.ID, PaymentExpired{
			PaymentID: p.ID,
			EventID:   p.EventID,
			UserID:    p.UserID,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			log.WithError(err).Warn("failed to publish payment expiry")
		}
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				r.logger.WithError(err).Error("expiry sweep failed")
				continue
			}
			if res.Expired+res.Skipped+res.Failed > 0 {
				r.logger.WithField("expired", res.Expired).
					WithField("skipped", res.Skipped).
					WithField("failed", res.Failed).
					Info("expired pending payments")
			}
		}
	}
}
