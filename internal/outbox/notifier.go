// Package outbox turns notification requests into durable outbox rows and
// relays them to the broker. A request survives a broker outage; the relay
// retries it until it is published or runs out of attempts.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/lumentix-tickets/internal/adapters/crdb"
	"github.com/robertarktes/lumentix-tickets/internal/adapters/rabbit"
	"github.com/robertarktes/lumentix-tickets/internal/domain"
)

type Writer interface {
	InsertOutbox(ctx context.Context, rec crdb.OutboxRecord) error
}

type Notifier struct {
	w Writer
}

func NewNotifier(w Writer) *Notifier {
	return &Notifier{w: w}
}

// QueueTicketEmail records one email request per ticket. A second request
// for the same ticket is a no-op.
func (n *Notifier) QueueTicketEmail(ctx context.Context, email domain.TicketEmail) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return errors.Wrap(err, "marshal ticket email")
	}
	err = n.w.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:            uuid.NewString(),
		AggregateType: "ticket",
		AggregateID:   email.TicketID,
		EventType:     rabbit.KeyTicketEmail,
		Payload:       payload,
		DedupeKey:     rabbit.KeyTicketEmail + ":" + email.TicketID,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}
