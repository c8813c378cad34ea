package models

import "time"

type TicketEventType string

const (
	TicketEventIssued   TicketEventType = "ticket.issued"
	TicketEventRedeemed TicketEventType = "ticket.redeemed"
)

// TicketEvent is what the notification port receives after a successful
// issuance or redemption.
type TicketEvent struct {
	Type       TicketEventType `json:"type"`
	OrderID    string          `json:"order_id"`
	HolderName string          `json:"holder_name"`
	Email      string          `json:"email"`
	TicketType TicketType      `json:"ticket_type"`
	Token      string          `json:"token,omitempty"`
	QRCode     []byte          `json:"qr_code,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
