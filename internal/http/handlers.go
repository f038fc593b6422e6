package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
	"github.com/robertarktes/lumentix-tickets/internal/tickets"
)

// TicketService is the lifecycle engine as seen by the HTTP layer.
type TicketService interface {
	IssueTicket(ctx context.Context, paymentID string) (*tickets.IssueResult, error)
	TransferTicket(ctx context.Context, ticketID, callerOwnerID, newOwnerID string) (*domain.Ticket, error)
	VerifyTicket(ctx context.Context, ticketID, signature string) (*domain.Ticket, error)
	FindOne(ctx context.Context, ticketID, callerID string) (*domain.Ticket, error)
	FindByOwner(ctx context.Context, ownerID string, page tickets.Page) (*tickets.PageResult, error)
	FindByEvent(ctx context.Context, eventID, callerID string, status domain.TicketStatus, page tickets.Page) (*tickets.PageResult, error)
	EventSummary(ctx context.Context, eventID, callerID string) (*domain.TicketSummary, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	svc    TicketService
	ready  map[string]Pinger
	logger observability.Logger
}

// NewHandlers wires the handlers. ready lists the dependencies /readyz
// pings, by name.
func NewHandlers(svc TicketService, ready map[string]Pinger, logger observability.Logger) *Handlers {
	return &Handlers{svc: svc, ready: ready, logger: logger}
}

type issueRequest struct {
	PaymentID string `json:"payment_id"`
}

func (h *Handlers) IssueTicket(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PaymentID == "" {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "payment_id is required"))
		return
	}
	res, err := h.svc.IssueTicket(r.Context(), req.PaymentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

func (h *Handlers) TransferTicket(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.svc.TransferTicket(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context()), req.NewOwnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type verifyRequest struct {
	Signature string `json:"signature"`
}

func (h *Handlers) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.svc.VerifyTicket(r.Context(), chi.URLParam(r, "id"), req.Signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.FindOne(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) MyTickets(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.FindByOwner(r.Context(), CallerID(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) EventTickets(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.TicketStatus(r.URL.Query().Get("status"))
	res, err := h.svc.FindByEvent(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context()), status, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) EventSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.EventSummary(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("readiness check failed")
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, "invalid request body: %v", err))
		return false
	}
	return true
}

func pageFrom(r *http.Request) (tickets.Page, error) {
	var p tickets.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, errors.Wrapf(domain.ErrInvalidInput, "%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return p, nil
}
