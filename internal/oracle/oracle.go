// Package oracle looks up settlement transactions on the Stellar network.
package oracle

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
)

// ErrTransactionNotFound means the network does not (yet) know the hash.
// Horizon ingestion can lag behind settlement, so it is retryable.
var ErrTransactionNotFound = errors.Wrap(domain.ErrUpstream, "transaction not found")

// Transaction is the subset of an on-chain transaction the ticket engine
// consumes. Memo is nil when the transaction carries none.
type Transaction struct {
	Hash       string    `json:"hash"`
	Successful bool      `json:"successful"`
	MemoType   string    `json:"memo_type"`
	Memo       *string   `json:"memo,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemoText returns the memo when it is a non-empty string.
func (t *Transaction) MemoText() (string, bool) {
	if t == nil || t.Memo == nil || *t.Memo == "" {
		return "", false
	}
	return *t.Memo, true
}

type Oracle interface {
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
}
