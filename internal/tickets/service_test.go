package tickets_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/oracle"
	"github.com/robertarktes/lumentix-tickets/internal/signing"
	"github.com/robertarktes/lumentix-tickets/internal/tickets"
)

const (
	eventID     = "EV1"
	organizerID = "org-1"
	buyerID     = "user-1"
)

type fixture struct {
	svc      *tickets.Service
	payments *memPayments
	store    *memTickets
	oracle   *stubOracle
	notifier *recordingNotifier
	auditor  *recordingAuditor
	disp     *inlineDispatcher
}

func strp(s string) *string { return &s }

func newFixture(t *testing.T, opts ...tickets.Option) *fixture {
	t.Helper()
	signer, err := signing.New(signing.Key(strings.Repeat("k", signing.MinSecretLen)))
	require.NoError(t, err)

	f := &fixture{
		payments: &memPayments{byID: map[string]*domain.Payment{
			"P1": {ID: "P1", EventID: eventID, UserID: buyerID, Amount: decimal.RequireFromString("10"), Currency: "XLM", Status: domain.PaymentPending},
			"P2": {ID: "P2", EventID: eventID, UserID: buyerID, Amount: decimal.RequireFromString("25.5"), Currency: "XLM", Status: domain.PaymentConfirmed, TransactionHash: strp("TX1")},
			"P3": {ID: "P3", EventID: eventID, UserID: buyerID, Currency: "XLM", Status: domain.PaymentConfirmed, TransactionHash: strp("TX3")},
			"P4": {ID: "P4", EventID: eventID, UserID: buyerID, Currency: "XLM", Status: domain.PaymentConfirmed},
			"P5": {ID: "P5", EventID: eventID, UserID: buyerID, Currency: "XLM", Status: domain.PaymentConfirmed, TransactionHash: strp("TX5")},
			"P6": {ID: "P6", EventID: eventID, UserID: buyerID, Currency: "XLM", Status: domain.PaymentConfirmed, TransactionHash: strp("TX6")},
		}},
		store: newMemTickets(),
		oracle: &stubOracle{txs: map[string]*oracle.Transaction{
			"TX1": {Hash: "TX1", Successful: true, MemoType: "text", Memo: strp("P2")},
			"TX3": {Hash: "TX3", Successful: true, MemoType: "text", Memo: strp("WRONG_ID")},
			"TX5": {Hash: "TX5", Successful: true, MemoType: "none"},
			"TX6": {Hash: "TX6", Successful: false, MemoType: "text", Memo: strp("P6")},
		}},
		notifier: &recordingNotifier{},
		auditor:  &recordingAuditor{},
		disp:     &inlineDispatcher{},
	}
	f.svc = tickets.NewService(tickets.Deps{
		Payments:   f.payments,
		Store:      f.store,
		Oracle:     f.oracle,
		Signer:     signer,
		Catalog:    memCatalog{eventID: {ID: eventID, Name: "Launch Night", OrganizerID: organizerID}},
		Users:      memUsers{buyerID: "buyer@example.com"},
		Notifier:   f.notifier,
		Auditor:    f.auditor,
		Dispatcher: f.disp,
	}, opts...)
	return f
}

func TestIssueTicket_ConfirmedPaymentWithMatchingMemo(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.IssueTicket(context.Background(), "P2")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.Ticket.ID)
	assert.Equal(t, domain.TicketValid, res.Ticket.Status)
	assert.Equal(t, buyerID, res.Ticket.OwnerID)
	assert.Equal(t, eventID, res.Ticket.EventID)
	assert.Equal(t, "XLM", res.Ticket.AssetCode)
	assert.Equal(t, "TX1", res.Ticket.TransactionHash)
	assert.Len(t, res.Signature, 64)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Payload), &payload))
	assert.Equal(t, res.Ticket.ID, payload["ticketId"])
	assert.Equal(t, res.Signature, payload["signature"])

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.TicketEmail{Email: "buyer@example.com", TicketID: res.Ticket.ID, EventName: "Launch Night"}, f.notifier.sent[0])
	assert.Equal(t, []string{domain.AuditTicketIssued}, f.auditor.actions())
}

func TestIssueTicket_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.IssueTicket(ctx, "P2")
	require.NoError(t, err)
	second, err := f.svc.IssueTicket(ctx, "P2")
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Ticket.ID, second.Ticket.ID)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.oracle.calls, "replay must not hit the oracle")
	assert.Len(t, f.notifier.sent, 1, "replay must not re-send the email")
}

func TestIssueTicket_ConcurrentCallsMintOneTicket(t *testing.T) {
	f := newFixture(t)
	const n = 16

	var wg sync.WaitGroup
	ids := make([]string, n)
	created := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.IssueTicket(context.Background(), "P2")
			errs[i] = err
			if err == nil {
				ids[i] = res.Ticket.ID
				created[i] = res.Created
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.store.count())
}

func TestIssueTicket_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		paymentID string
		target    error
		contains  string
	}{
		{"unknown payment", "nope", domain.ErrNotFound, ""},
		{"pending payment", "P1", domain.ErrInvalidState, "not confirmed"},
		{"confirmed without hash", "P4", domain.ErrInvalidState, "no transaction hash"},
		{"memo mismatch", "P3", domain.ErrInvalidState, "transaction memo does not match payment"},
		{"missing memo", "P5", domain.ErrInvalidState, "missing memo"},
		{"failed on chain", "P6", domain.ErrInvalidState, "did not succeed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.IssueTicket(context.Background(), tt.paymentID)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
			assert.Equal(t, 0, f.store.count())
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestIssueTicket_MemoMismatchNamesBothValues(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueTicket(context.Background(), "P3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `expected "P3", got "WRONG_ID"`)
}

func TestIssueTicket_OracleTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, tickets.WithOracleTimeout(20*time.Millisecond))
	f.oracle.block = true

	start := time.Now()
	_, err := f.svc.IssueTicket(context.Background(), "P2")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, domain.IsRetryable(err))
	assert.False(t, errors.Is(err, domain.ErrInvalidState))
	assert.Equal(t, 0, f.store.count())
}

func TestIssueTicket_UnknownTransactionIsRetryable(t *testing.T) {
	f := newFixture(t)
	delete(f.oracle.txs, "TX1")

	_, err := f.svc.IssueTicket(context.Background(), "P2")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 0, f.store.count())
}

func TestIssueTicket_NotificationFailureDoesNotFailIssuance(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	res, err := f.svc.IssueTicket(context.Background(), "P2")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, f.store.count())
	require.Len(t, f.disp.errs, 1)
	assert.Contains(t, f.disp.errs[0].Error(), "broker down")
}

func TestIssueTicket_MissingEmailSkipsNotification(t *testing.T) {
	f := newFixture(t)
	f.payments.byID["P2"].UserID = "ghost"

	res, err := f.svc.IssueTicket(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, "ghost", res.Ticket.OwnerID)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.disp.errs)
}

func issue(t *testing.T, f *fixture) *tickets.IssueResult {
	t.Helper()
	res, err := f.svc.IssueTicket(context.Background(), "P2")
	require.NoError(t, err)
	return res
}

func TestVerifyTicket_AdmitsOnce(t *testing.T) {
	f := newFixture(t)
	res := issue(t, f)
	ctx := context.Background()

	used, err := f.svc.VerifyTicket(ctx, res.Ticket.ID, res.Signature)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketUsed, used.Status)

	_, err = f.svc.VerifyTicket(ctx, res.Ticket.ID, res.Signature)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.Contains(t, f.auditor.actions(), domain.AuditTicketCheckedIn)
}

func TestVerifyTicket_ConcurrentScansAdmitExactlyOne(t *testing.T) {
	f := newFixture(t)
	res := issue(t, f)
	const n = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, already := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyTicket(context.Background(), res.Ticket.ID, res.Signature)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyUsed):
				already++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
}

func TestVerifyTicket_BadSignatureBeforeLookup(t *testing.T) {
	f := newFixture(t)
	res := issue(t, f)

	_, err := f.svc.VerifyTicket(context.Background(), res.Ticket.ID, strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	// A forged scan of an unknown id is rejected the same way, not as not-found.
	_, err = f.svc.VerifyTicket(context.Background(), "missing", strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	tk, err := f.store.GetTicket(context.Background(), res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketValid, tk.Status)
}

func TestVerifyTicket_RefundedTicket(t *testing.T) {
	f := newFixture(t)
	res := issue(t, f)
	f.store.byID[res.Ticket.ID].Status = domain.TicketRefunded

	_, err := f.svc.VerifyTicket(context.Background(), res.Ticket.ID, res.Signature)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.False(t, errors.Is(err, domain.ErrAlreadyUsed))
}

func TestTransferTicket(t *testing.T) {
	f := newFixture(t)
	res := issue(t, f)
	ctx := context.Background()

	_, err := f.svc.TransferTicket(ctx, res.Ticket.ID, "someone-else", "user-2")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	moved, err := f.svc.TransferTicket(ctx, res.Ticket.ID, buyerID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", moved.OwnerID)

	// The old owner lost it.
	_, err = f.svc.TransferTicket(ctx, res.Ticket.ID, buyerID, "user-3")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	// The signature belongs to the ticket, not the owner, so it still admits.
	_, err = f.svc.VerifyTicket(ctx, res.Ticket.ID, res.Signature)
	require.NoError(t, err)

	_, err = f.svc.TransferTicket(ctx, res.Ticket.ID, "user-2", "user-3")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	_, err = f.svc.TransferTicket(ctx, "missing", buyerID, "user-3")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.svc.TransferTicket(ctx, res.Ticket.ID, "user-2", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	assert.Contains(t, f.auditor.actions(), domain.AuditTicketTransferred)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	res := issue(t, f)
	ctx := context.Background()

	got, err := f.svc.FindOne(ctx, res.Ticket.ID, buyerID)
	require.NoError(t, err)
	assert.Equal(t, res.Ticket.ID, got.ID)

	_, err = f.svc.FindOne(ctx, res.Ticket.ID, "stranger")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.svc.FindOne(ctx, "missing", buyerID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	mine, err := f.svc.FindByOwner(ctx, buyerID, tickets.Page{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, mine.Total)
	assert.Equal(t, tickets.MaxPageSize, mine.Limit)

	none, err := f.svc.FindByOwner(ctx, "stranger", tickets.Page{})
	require.NoError(t, err)
	assert.NotNil(t, none.Items)
	assert.Equal(t, tickets.DefaultPageSize, none.Limit)

	_, err = f.svc.FindByEvent(ctx, eventID, buyerID, "", tickets.Page{})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	byEvent, err := f.svc.FindByEvent(ctx, eventID, organizerID, domain.TicketValid, tickets.Page{})
	require.NoError(t, err)
	assert.Len(t, byEvent.Items, 1)

	_, err = f.svc.FindByEvent(ctx, eventID, organizerID, "bogus", tickets.Page{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = f.svc.VerifyTicket(ctx, res.Ticket.ID, res.Signature)
	require.NoError(t, err)
	sum, err := f.svc.EventSummary(ctx, eventID, organizerID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketSummary{Total: 1, Used: 1}, *sum)

	_, err = f.svc.EventSummary(ctx, "EV-missing", organizerID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
