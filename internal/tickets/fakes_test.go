package tickets_test

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/lumentix-tickets/internal/dispatch"
	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/oracle"
)

type memPayments struct {
	byID map[string]*domain.Payment
}

func (m *memPayments) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// memTickets mirrors the storage guarantees: unique transaction hash and
// conditional status/owner updates.
type memTickets struct {
	mu      sync.Mutex
	byID    map[string]*domain.Ticket
	creates int
}

func newMemTickets() *memTickets {
	return &memTickets{byID: map[string]*domain.Ticket{}}
}

func (m *memTickets) CreateTicket(_ context.Context, t domain.Ticket) (domain.Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.TransactionHash == t.TransactionHash {
			return *existing, false, nil
		}
	}
	t.ID = uuid.NewString()
	m.byID[t.ID] = &t
	m.creates++
	return t, true, nil
}

func (m *memTickets) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) GetTicketByTxHash(_ context.Context, hash string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.TransactionHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memTickets) TransferTicket(_ context.Context, id, from, to string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.OwnerID != from || t.Status != domain.TicketValid {
		return nil, domain.ErrConflict
	}
	t.OwnerID = to
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (m *memTickets) MarkTicketUsed(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.Status != domain.TicketValid {
		return nil, domain.ErrConflict
	}
	t.Status = domain.TicketUsed
	cp := *t
	return &cp, nil
}

func (m *memTickets) ListTicketsByOwner(_ context.Context, owner string, limit, offset int) ([]domain.Ticket, int, error) {
	return m.list(func(t *domain.Ticket) bool { return t.OwnerID == owner }, limit, offset)
}

func (m *memTickets) ListTicketsByEvent(_ context.Context, event string, status domain.TicketStatus, limit, offset int) ([]domain.Ticket, int, error) {
	return m.list(func(t *domain.Ticket) bool {
		return t.EventID == event && (status == "" || t.Status == status)
	}, limit, offset)
}

func (m *memTickets) list(match func(*domain.Ticket) bool, limit, offset int) ([]domain.Ticket, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Ticket
	for _, t := range m.byID {
		if match(t) {
			all = append(all, *t)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memTickets) CountTicketsByStatus(_ context.Context, event string) (domain.TicketSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum domain.TicketSummary
	for _, t := range m.byID {
		if t.EventID == event {
			sum.Add(t.Status, 1)
		}
	}
	return sum, nil
}

func (m *memTickets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type stubOracle struct {
	mu    sync.Mutex
	txs   map[string]*oracle.Transaction
	err   error
	block bool
	calls int
}

func (o *stubOracle) GetTransaction(ctx context.Context, hash string) (*oracle.Transaction, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
	if o.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if o.err != nil {
		return nil, o.err
	}
	tx, ok := o.txs[hash]
	if !ok {
		return nil, oracle.ErrTransactionNotFound
	}
	return tx, nil
}

type memCatalog map[string]*domain.Event

func (c memCatalog) LookupEvent(_ context.Context, id string) (*domain.Event, error) {
	e, ok := c[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

type memUsers map[string]string

func (u memUsers) GetUserEmail(_ context.Context, id string) (string, error) {
	e, ok := u[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return e, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.TicketEmail
	err  error
}

func (n *recordingNotifier) QueueTicketEmail(_ context.Context, e domain.TicketEmail) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, e)
	return nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (a *recordingAuditor) Append(_ context.Context, rec domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Action)
	}
	return out
}

// inlineDispatcher runs tasks synchronously and keeps their errors, which
// the real dispatcher would only log.
type inlineDispatcher struct {
	mu    sync.Mutex
	errs  []error
	tasks []string
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, name string, task dispatch.Task) bool {
	err := task(context.WithoutCancel(ctx))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, name)
	if err != nil {
		d.errs = append(d.errs, errors.Wrap(err, name))
	}
	return true
}
