package domain

const (
	AuditPaymentExpired    = "PAYMENT_EXPIRED"
	AuditTicketIssued      = "TICKET_ISSUED"
	AuditTicketTransferred = "TICKET_TRANSFERRED"
	AuditTicketCheckedIn   = "TICKET_CHECKED_IN"
)

type AuditRecord struct {
	Action     string
	UserID     string
	ResourceID string
	Metadata   map[string]interface{}
}
