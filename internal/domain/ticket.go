package domain

import "time"

// NewTicket builds the row minted for a confirmed payment. The id is left
// empty: it is generated by storage and the signature is computed over it.
func NewTicket(p Payment) Ticket {
	now := time.Now().UTC()
	return Ticket{
		EventID:         p.EventID,
		OwnerID:         p.UserID,
		AssetCode:       p.Currency,
		TransactionHash: *p.TransactionHash,
		Status:          TicketValid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
