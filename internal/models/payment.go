package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentRejected  PaymentStatus = "REJECTED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID      string        `bun:"id,pk" json:"id"`
	OrderID string        `bun:"order_id,notnull,unique" json:"orderId"`
	Status  PaymentStatus `bun:"status,notnull" json:"status"`
	Amount  int64         `bun:"amount" json:"amount"`
	// Currency is the lowercase ISO code.
	Currency string `bun:"currency,notnull" json:"currency"`
	// Reference is the gateway correlation key handed to the client.
	Reference  string    `bun:"reference,nullzero,unique" json:"reference,omitempty"`
	ExternalID string    `bun:"external_id,nullzero" json:"externalId,omitempty"`
	Artifact   string    `bun:"artifact,nullzero" json:"artifact,omitempty"`
	ExpiresAt  time.Time `bun:"expires_at,notnull" json:"expiresAt"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt  time.Time `bun:"updated_at,notnull" json:"updatedAt"`
}
