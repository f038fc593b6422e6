package tickets

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

// TransferTicket hands a valid ticket from callerOwnerID to newOwnerID.
// callerOwnerID must come from the authenticated caller.
func (s *Service) TransferTicket(ctx context.Context, ticketID, callerOwnerID, newOwnerID string) (t *domain.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "tickets.TransferTicket", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	if newOwnerID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "new owner is required")
	}

	current, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, errors.Wrapf(err, "ticket %s", ticketID)
	}
	if err := transferGuard(current, callerOwnerID); err != nil {
		return nil, err
	}

	updated, err := s.Store.TransferTicket(ctx, ticketID, callerOwnerID, newOwnerID)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a race with another transfer or a check-in; report why.
		if current, rerr := s.Store.GetTicket(ctx, ticketID); rerr == nil {
			if gerr := transferGuard(current, callerOwnerID); gerr != nil {
				return nil, gerr
			}
		}
		return nil, domain.Upstream(err, "transfer ticket")
	}
	if err != nil {
		return nil, errors.Wrap(err, "transfer ticket")
	}

	s.audit(ctx, domain.AuditRecord{
		Action:     domain.AuditTicketTransferred,
		UserID:     callerOwnerID,
		ResourceID: updated.ID,
		Metadata:   map[string]interface{}{"from": callerOwnerID, "to": newOwnerID, "eventId": updated.EventID},
	})
	return updated, nil
}

func transferGuard(t *domain.Ticket, callerOwnerID string) error {
	if callerOwnerID == "" || t.OwnerID != callerOwnerID {
		return errors.Wrapf(domain.ErrForbidden, "caller does not own ticket %s", t.ID)
	}
	if !t.Transferable() {
		return errors.Wrapf(domain.ErrInvalidState, "ticket %s is %s and cannot be transferred", t.ID, t.Status)
	}
	return nil
}

// VerifyTicket is the gate scan. The signature is checked before any
// lookup so a forged scan learns nothing about which ids exist. At most
// one call per ticket succeeds; the rest get domain.ErrAlreadyUsed.
func (s *Service) VerifyTicket(ctx context.Context, ticketID, signature string) (t *domain.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "tickets.VerifyTicket", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	outcome := "admitted"
	defer func() {
		observability.CheckIns.WithLabelValues(outcome).Inc()
		endSpan(span, err)
	}()

	if !s.Signer.Verify(ticketID, signature) {
		outcome = "bad_signature"
		return nil, errors.Wrap(domain.ErrUnauthorized, "invalid ticket signature")
	}

	current, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		outcome = "error"
		return nil, errors.Wrapf(err, "ticket %s", ticketID)
	}
	if err := checkInGuard(current); err != nil {
		outcome = outcomeOf(err)
		return nil, err
	}

	used, err := s.Store.MarkTicketUsed(ctx, ticketID)
	if errors.Is(err, domain.ErrConflict) {
		// Another scan won the conditional update.
		cerr := errors.Wrapf(domain.ErrAlreadyUsed, "ticket %s", ticketID)
		if current, rerr := s.Store.GetTicket(ctx, ticketID); rerr == nil {
			if gerr := checkInGuard(current); gerr != nil {
				cerr = gerr
			}
		}
		outcome = outcomeOf(cerr)
		return nil, cerr
	}
	if err != nil {
		outcome = "error"
		return nil, errors.Wrap(err, "mark ticket used")
	}

	s.Logger.WithField("ticket_id", used.ID).WithField("event_id", used.EventID).Info("ticket checked in")
	s.audit(ctx, domain.AuditRecord{
		Action:     domain.AuditTicketCheckedIn,
		UserID:     used.OwnerID,
		ResourceID: used.ID,
		Metadata:   map[string]interface{}{"eventId": used.EventID},
	})
	return used, nil
}

func checkInGuard(t *domain.Ticket) error {
	switch t.Status {
	case domain.TicketValid:
		return nil
	case domain.TicketUsed:
		return errors.Wrapf(domain.ErrAlreadyUsed, "ticket %s", t.ID)
	default:
		return errors.Wrapf(domain.ErrInvalidState, "ticket %s is %s", t.ID, t.Status)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	}
	return "error"
}
