package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
)

const ticketColumns = `id, event_id, owner_id, asset_code, transaction_hash, status, created_at, updated_at`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		t      domain.Ticket
		status string
	)
	err := row.Scan(&t.ID, &t.EventID, &t.OwnerID, &t.AssetCode, &t.TransactionHash, &status, &t.CreatedAt, &t.UpdatedAt)
	t.Status = domain.TicketStatus(status)
	return t, err
}

func collectTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	tickets := []domain.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, mapErr(err, "scan ticket")
		}
		tickets = append(tickets, t)
	}
	return tickets, mapErr(rows.Err(), "iterate tickets")
}

// CreateTicket inserts t unless a ticket for the same settling transaction
// exists. The unique constraint on transaction_hash decides; on conflict the
// existing row is returned with created=false.
func (r *Repository) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, bool, error) {
	saved, err := scanTicket(r.pool.QueryRow(ctx, `
		INSERT INTO tickets (event_id, owner_id, asset_code, transaction_hash, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (transaction_hash) DO NOTHING
		RETURNING `+ticketColumns,
		t.EventID, t.OwnerID, t.AssetCode, t.TransactionHash, string(t.Status)))
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, false, mapErr(err, "insert ticket")
	}

	existing, err := r.GetTicketByTxHash(ctx, t.TransactionHash)
	if err != nil {
		return domain.Ticket{}, false, err
	}
	return *existing, false, nil
}

func (r *Repository) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "get ticket")
	}
	return &t, nil
}

func (r *Repository) GetTicketByTxHash(ctx context.Context, hash string) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE transaction_hash = $1`, hash))
	if err != nil {
		return nil, mapErr(err, "get ticket by transaction hash")
	}
	return &t, nil
}

// TransferTicket changes the owner only while the caller still owns a
// valid ticket. ErrConflict means the guard did not hold at write time.
func (r *Repository) TransferTicket(ctx context.Context, id, fromOwner, toOwner string) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		UPDATE tickets SET owner_id = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND status = 'valid'
		RETURNING `+ticketColumns, id, fromOwner, toOwner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrConflict, "ticket %s changed during transfer", id)
	}
	if err != nil {
		return nil, mapErr(err, "transfer ticket")
	}
	return &t, nil
}

// MarkTicketUsed is the check-in linearization point: exactly one caller
// sees the valid -> used transition, every other gets ErrConflict.
func (r *Repository) MarkTicketUsed(ctx context.Context, id string) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		UPDATE tickets SET status = 'used', updated_at = now()
		WHERE id = $1 AND status = 'valid'
		RETURNING `+ticketColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrConflict, "ticket %s is not valid", id)
	}
	if err != nil {
		return nil, mapErr(err, "mark ticket used")
	}
	return &t, nil
}

func (r *Repository) ListTicketsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Ticket, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM tickets WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "count owner tickets")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, mapErr(err, "list owner tickets")
	}
	tickets, err := collectTickets(rows)
	return tickets, total, err
}

// ListTicketsByEvent lists an event's tickets; an empty status means all.
func (r *Repository) ListTicketsByEvent(ctx context.Context, eventID string, status domain.TicketStatus, limit, offset int) ([]domain.Ticket, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM tickets WHERE event_id = $1 AND ($2 = '' OR status = $2)
	`, eventID, string(status)).Scan(&total)
	if err != nil {
		return nil, 0, mapErr(err, "count event tickets")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE event_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, eventID, string(status), limit, offset)
	if err != nil {
		return nil, 0, mapErr(err, "list event tickets")
	}
	tickets, err := collectTickets(rows)
	return tickets, total, err
}

func (r *Repository) CountTicketsByStatus(ctx context.Context, eventID string) (domain.TicketSummary, error) {
	var summary domain.TicketSummary
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM tickets WHERE event_id = $1 GROUP BY status
	`, eventID)
	if err != nil {
		return summary, mapErr(err, "count tickets by status")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return summary, mapErr(err, "scan ticket count")
		}
		summary.Add(domain.TicketStatus(status), n)
	}
	return summary, mapErr(rows.Err(), "iterate ticket counts")
}
