package tickets

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

type IssueResult struct {
	Ticket    domain.Ticket `json:"ticket"`
	Signature string        `json:"signature"`
	// Payload is what the QR code encodes.
	Payload string `json:"payload"`
	// Created is false when an earlier call already minted the ticket.
	Created bool `json:"-"`
}

type displayPayload struct {
	TicketID  string `json:"ticketId"`
	Signature string `json:"signature"`
}

// IssueTicket mints the ticket paid for by paymentID. Calling it again for
// the same settlement returns the ticket minted the first time.
func (s *Service) IssueTicket(ctx context.Context, paymentID string) (res *IssueResult, err error) {
	ctx, span := s.tracer.Start(ctx, "tickets.IssueTicket", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer func() { endSpan(span, err) }()

	payment, err := s.Payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, errors.Wrapf(err, "payment %s", paymentID)
	}
	if payment.Status != domain.PaymentConfirmed {
		return nil, errors.Wrapf(domain.ErrInvalidState, "payment %s is %s, not confirmed", payment.ID, payment.Status)
	}
	if !payment.HasTransactionHash() {
		return nil, errors.Wrapf(domain.ErrInvalidState, "payment %s is confirmed but has no transaction hash", payment.ID)
	}
	hash := *payment.TransactionHash
	span.SetAttributes(attribute.String("tx.hash", hash))

	// Shortcut for retries. Correctness comes from the unique constraint
	// CreateTicket relies on, not from this lookup.
	existing, err := s.Store.GetTicketByTxHash(ctx, hash)
	switch {
	case err == nil:
		return s.replay(*existing), nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, errors.Wrap(err, "look up ticket by transaction hash")
	}

	if err := s.checkSettlement(ctx, payment, hash); err != nil {
		return nil, err
	}

	ticket, created, err := s.Store.CreateTicket(ctx, domain.NewTicket(*payment))
	if err != nil {
		return nil, errors.Wrap(err, "persist ticket")
	}
	if !created {
		return s.replay(ticket), nil
	}

	observability.TicketsIssued.WithLabelValues("created").Inc()
	s.Logger.WithField("ticket_id", ticket.ID).WithField("payment_id", payment.ID).Info("ticket issued")

	s.notifyIssued(ctx, ticket)
	s.audit(ctx, domain.AuditRecord{
		Action:     domain.AuditTicketIssued,
		UserID:     ticket.OwnerID,
		ResourceID: ticket.ID,
		Metadata: map[string]interface{}{
			"eventId":         ticket.EventID,
			"paymentId":       payment.ID,
			"transactionHash": hash,
		},
	})

	res = s.result(ticket)
	res.Created = true
	return res, nil
}

// checkSettlement proves the on-chain transaction was made for this
// payment: its memo must be exactly the payment id.
func (s *Service) checkSettlement(ctx context.Context, payment *domain.Payment, hash string) error {
	octx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()

	tx, err := s.Oracle.GetTransaction(octx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return errors.Wrapf(err, "settlement transaction %s", hash)
		}
		return domain.Upstream(err, "fetch settlement transaction "+hash)
	}
	if !tx.Successful {
		return errors.Wrapf(domain.ErrInvalidState, "settlement transaction %s did not succeed", hash)
	}
	memo, ok := tx.MemoText()
	if !ok {
		return errors.Wrapf(domain.ErrInvalidState, "transaction %s is missing memo, cannot verify payment reference", hash)
	}
	if memo != payment.ID {
		return errors.Wrapf(domain.ErrInvalidState, "transaction memo does not match payment: expected %q, got %q", payment.ID, memo)
	}
	return nil
}

func (s *Service) replay(t domain.Ticket) *IssueResult {
	observability.TicketsIssued.WithLabelValues("replayed").Inc()
	return s.result(t)
}

func (s *Service) result(t domain.Ticket) *IssueResult {
	sig := s.Signer.Sign(t.ID)
	payload, _ := json.Marshal(displayPayload{TicketID: t.ID, Signature: sig})
	return &IssueResult{Ticket: t, Signature: sig, Payload: string(payload)}
}

// notifyIssued queues the ticket email. Missing recipient data skips the
// email; nothing here can fail issuance.
func (s *Service) notifyIssued(ctx context.Context, t domain.Ticket) {
	if s.Notifier == nil || s.Dispatcher == nil {
		return
	}
	s.Dispatcher.Dispatch(ctx, "ticket.email", func(ctx context.Context) error {
		log := s.Logger.WithField("ticket_id", t.ID)
		email, err := s.Users.GetUserEmail(ctx, t.OwnerID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("ticket email skipped: owner has no email")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "look up owner email")
		}
		event, err := s.Catalog.LookupEvent(ctx, t.EventID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("ticket email skipped: event not in catalog")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "look up event")
		}
		return s.Notifier.QueueTicketEmail(ctx, domain.TicketEmail{
			Email:     email,
			TicketID:  t.ID,
			EventName: event.Name,
		})
	})
}
