// Package tickets is the ticket lifecycle engine: it mints tickets from
// confirmed, chain-verified payments, transfers them between owners and
// consumes them exactly once at the venue gate.
package tickets

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/lumentix-tickets/internal/dispatch"
	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
	"github.com/robertarktes/lumentix-tickets/internal/oracle"
)

const defaultOracleTimeout = 5 * time.Second

type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
}

// TicketStore is the only writer of tickets. CreateTicket, TransferTicket
// and MarkTicketUsed must be enforced by storage: a unique transaction hash
// and conditional updates that return domain.ErrConflict when the guard
// no longer holds.
type TicketStore interface {
	CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, bool, error)
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	GetTicketByTxHash(ctx context.Context, hash string) (*domain.Ticket, error)
	TransferTicket(ctx context.Context, id, fromOwner, toOwner string) (*domain.Ticket, error)
	MarkTicketUsed(ctx context.Context, id string) (*domain.Ticket, error)
	ListTicketsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Ticket, int, error)
	ListTicketsByEvent(ctx context.Context, eventID string, status domain.TicketStatus, limit, offset int) ([]domain.Ticket, int, error)
	CountTicketsByStatus(ctx context.Context, eventID string) (domain.TicketSummary, error)
}

type Signer interface {
	Sign(ticketID string) string
	Verify(ticketID, signature string) bool
}

type EventCatalog interface {
	LookupEvent(ctx context.Context, id string) (*domain.Event, error)
}

type UserDirectory interface {
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

type Notifier interface {
	QueueTicketEmail(ctx context.Context, email domain.TicketEmail) error
}

type Auditor interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, name string, task dispatch.Task) bool
}

type Deps struct {
	Payments   PaymentReader
	Store      TicketStore
	Oracle     oracle.Oracle
	Signer     Signer
	Catalog    EventCatalog
	Users      UserDirectory
	Notifier   Notifier
	Auditor    Auditor
	Dispatcher Dispatcher
	Logger     observability.Logger
}

type Service struct {
	Deps
	oracleTimeout time.Duration
	tracer        trace.Tracer
}

type Option func(*Service)

// WithOracleTimeout bounds each settlement transaction lookup.
func WithOracleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.oracleTimeout = d
		}
	}
}

func NewService(deps Deps, opts ...Option) *Service {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	s := &Service{
		Deps:          deps,
		oracleTimeout: defaultOracleTimeout,
		tracer:        otel.Tracer("github.com/robertarktes/lumentix-tickets/internal/tickets"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// audit records rec after the caller's write has committed.
func (s *Service) audit(ctx context.Context, rec domain.AuditRecord) {
	if s.Auditor == nil || s.Dispatcher == nil {
		return
	}
	s.Dispatcher.Dispatch(ctx, "audit."+rec.Action, func(ctx context.Context) error {
		return s.Auditor.Append(ctx, rec)
	})
}
