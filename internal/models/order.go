package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Status string

const (
	StatusIssued Status = "issued"
	StatusUsed   Status = "used"
)

// Order is a single issued ticket. Everything except Status, UsedAt and the
// cached QRCode is fixed at issuance.
type Order struct {
	bun.BaseModel `bun:"table:ticket_orders,alias:o"`

	ID             string     `bun:"id,pk" json:"id"`
	HolderName     string     `bun:"holder_name,notnull" json:"holder_name"`
	HolderEmail    string     `bun:"holder_email,notnull" json:"holder_email"`
	TicketType     TicketType `bun:"ticket_type,notnull" json:"ticket_type"`
	Status         Status     `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"created_at"`
	UsedAt         *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	PayloadVersion int        `bun:"payload_version,notnull" json:"payload_version"`
	Payload        string     `bun:"payload,notnull" json:"-"`
	Signature      string     `bun:"signature,notnull" json:"-"`
	QRCode         []byte     `bun:"qr_code" json:"-"`
}

// IsUsed reports whether the ticket has already been redeemed.
func (o *Order) IsUsed() bool {
	return o.Status == StatusUsed
}

type OrderResponse struct {
	ID          string     `json:"id"`
	HolderName  string     `json:"holder_name"`
	HolderEmail string     `json:"holder_email"`
	TicketType  TicketType `json:"ticket_type"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	HasQRCode   bool       `json:"has_qr_code"`
}

func (o *Order) Response() OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		HolderName:  o.HolderName,
		HolderEmail: o.HolderEmail,
		TicketType:  o.TicketType,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		UsedAt:      o.UsedAt,
		HasQRCode:   len(o.QRCode) > 0,
	}
}
