package tickets

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type PageResult struct {
	Items  []domain.Ticket `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// FindOne returns a ticket to its owner.
func (s *Service) FindOne(ctx context.Context, ticketID, callerID string) (*domain.Ticket, error) {
	t, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, errors.Wrapf(err, "ticket %s", ticketID)
	}
	if t.OwnerID != callerID {
		return nil, errors.Wrapf(domain.ErrForbidden, "caller does not own ticket %s", ticketID)
	}
	return t, nil
}

func (s *Service) FindByOwner(ctx context.Context, ownerID string, page Page) (*PageResult, error) {
	page = page.normalize()
	items, total, err := s.Store.ListTicketsByOwner(ctx, ownerID, page.Limit, page.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list tickets by owner")
	}
	return &PageResult{Items: nonNil(items), Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// FindByEvent lists an event's tickets for its organizer. An empty status
// lists every status.
func (s *Service) FindByEvent(ctx context.Context, eventID, callerID string, status domain.TicketStatus, page Page) (*PageResult, error) {
	if status != "" && !status.Valid() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown ticket status %q", status)
	}
	if err := s.requireOrganizer(ctx, eventID, callerID); err != nil {
		return nil, err
	}
	page = page.normalize()
	items, total, err := s.Store.ListTicketsByEvent(ctx, eventID, status, page.Limit, page.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list tickets by event")
	}
	return &PageResult{Items: nonNil(items), Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func (s *Service) EventSummary(ctx context.Context, eventID, callerID string) (*domain.TicketSummary, error) {
	if err := s.requireOrganizer(ctx, eventID, callerID); err != nil {
		return nil, err
	}
	sum, err := s.Store.CountTicketsByStatus(ctx, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "count tickets")
	}
	return &sum, nil
}

func (s *Service) requireOrganizer(ctx context.Context, eventID, callerID string) error {
	event, err := s.Catalog.LookupEvent(ctx, eventID)
	if err != nil {
		return errors.Wrapf(err, "event %s", eventID)
	}
	if event.OrganizerID == "" || event.OrganizerID != callerID {
		return errors.Wrapf(domain.ErrForbidden, "caller does not organize event %s", eventID)
	}
	return nil
}

func nonNil(items []domain.Ticket) []domain.Ticket {
	if items == nil {
		return []domain.Ticket{}
	}
	return items
}
