// Package gateway adapts payment providers to the two calls the order
// lifecycle needs.
package gateway

import (
	"context"
	"time"

	"ms-boxoffice/internal/models"
)

// Request is what a provider hands back for a new payment.
type Request struct {
	// Reference is the correlation key the provider will report back with.
	Reference  string
	ExternalID string
	// Artifact is shown to the shopper: a QR data URL, a checkout URL or a
	// client secret depending on the provider.
	Artifact  string
	ExpiresAt time.Time
}

type Gateway interface {
	CreatePaymentRequest(ctx context.Context, order *models.Order) (*Request, error)
	// FetchStatus returns the provider's own status word for reference.
	FetchStatus(ctx context.Context, reference string) (string, error)
}
