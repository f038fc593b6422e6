package crdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type OutboxRecord struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	Attempts      int
	DedupeKey     string
}

// InsertOutbox stores record outside of any ticket transaction. A duplicate
// dedupe key is reported as ErrConflict.
func (r *Repository) InsertOutbox(ctx context.Context, record OutboxRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return mapErr(err, "insert outbox")
}

// ClaimOutbox locks up to limit unpublished records inside tx. Concurrent
// relays skip rows another relay holds.
func (r *Repository) ClaimOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, attempts, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, mapErr(err, "claim outbox")
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.Attempts, &rec.DedupeKey)
		if err != nil {
			return nil, mapErr(err, "scan outbox")
		}
		records = append(records, rec)
	}
	return records, mapErr(rows.Err(), "iterate outbox")
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id string, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return mapErr(err, "mark outbox published")
}

// RecordAttempt bumps the attempt counter and gives up on the record once
// maxAttempts is reached.
func (r *Repository) RecordAttempt(ctx context.Context, tx pgx.Tx, id string, maxAttempts int) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'FAILED' ELSE status END
		WHERE id = $1
	`, id, maxAttempts)
	return mapErr(err, "record outbox attempt")
}
