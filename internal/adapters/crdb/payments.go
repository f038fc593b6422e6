package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
)

const paymentColumns = `id, event_id, user_id, amount::STRING, currency, transaction_hash, status, expires_at, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		p      domain.Payment
		amount string
		status string
	)
	err := row.Scan(&p.ID, &p.EventID, &p.UserID, &amount, &p.Currency, &p.TransactionHash, &status, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Payment{}, errors.Wrapf(err, "payment %s amount", p.ID)
	}
	return p, nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "get payment")
	}
	return &p, nil
}

// ExpiredPendingPayments returns up to limit pending payments whose expiry
// is strictly before now, ordered by (expires_at, id) and starting after the
// cursor.
func (r *Repository) ExpiredPendingPayments(ctx context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]domain.Payment, error) {
	var afterAt *time.Time
	if !after.IsZero() {
		at := after.ExpiresAt
		afterAt = &at
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		  AND ($2::TIMESTAMPTZ IS NULL OR (expires_at, id) > ($2::TIMESTAMPTZ, $3::STRING))
		ORDER BY expires_at ASC, id ASC
		LIMIT $4
	`, now, afterAt, after.ID, limit)
	if err != nil {
		return nil, mapErr(err, "query expired payments")
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr(err, "scan payment")
		}
		payments = append(payments, p)
	}
	return payments, mapErr(rows.Err(), "iterate payments")
}

// MarkPaymentFailed moves a payment from pending to failed. It returns
// ErrConflict when the payment is no longer pending, which happens when
// settlement or another sweeper got there first.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return mapErr(err, "mark payment failed")
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "payment %s is not pending", id)
	}
	return nil
}
