package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is owned by the payment subsystem. The ticket engine only reads
// it; the expiry reconciler is the only writer here (pending -> failed).
type Payment struct {
	ID              string
	EventID         string
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	TransactionHash *string
	Status          PaymentStatus
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExpiryCursor is a keyset position in the (expires_at, id) order of overdue
// payments. The zero value starts from the oldest.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

func (c ExpiryCursor) IsZero() bool { return c.ID == "" }

// CursorAfter is the position just past p.
func CursorAfter(p Payment) ExpiryCursor {
	c := ExpiryCursor{ID: p.ID}
	if p.ExpiresAt != nil {
		c.ExpiresAt = *p.ExpiresAt
	}
	return c
}

func (p Payment) HasTransactionHash() bool {
	return p.TransactionHash != nil && *p.TransactionHash != ""
}

type TicketStatus string

const (
	TicketValid    TicketStatus = "valid"
	TicketUsed     TicketStatus = "used"
	TicketRefunded TicketStatus = "refunded"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketValid, TicketUsed, TicketRefunded:
		return true
	}
	return false
}

type Ticket struct {
	ID              string       `json:"id"`
	EventID         string       `json:"event_id"`
	OwnerID         string       `json:"owner_id"`
	AssetCode       string       `json:"asset_code"`
	TransactionHash string       `json:"transaction_hash"`
	Status          TicketStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (t Ticket) Transferable() bool {
	return t.Status == TicketValid
}

// TicketSummary counts an event's tickets by status.
type TicketSummary struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Used     int `json:"used"`
	Refunded int `json:"refunded"`
}

func (s *TicketSummary) Add(status TicketStatus, n int) {
	switch status {
	case TicketValid:
		s.Valid += n
	case TicketUsed:
		s.Used += n
	case TicketRefunded:
		s.Refunded += n
	}
	s.Total += n
}

// Event is the catalog view the ticket engine needs.
type Event struct {
	ID          string
	Name        string
	OrganizerID string
}

// TicketEmail is the notification queued after a ticket is minted.
type TicketEmail struct {
	Email     string `json:"email"`
	TicketID  string `json:"ticket_id"`
	EventName string `json:"event_name"`
}
