package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/skip2/go-qrcode"

	"ms-boxoffice/internal/models"
)

var (
	ErrUnavailable      = errors.New("payment gateway unavailable")
	ErrUnknownReference = errors.New("unknown payment reference")
)

// Mock is an in-process provider for local runs and tests. Its artifact is a
// QR code pointing at the mock approval endpoint.
type Mock struct {
	BaseURL  string
	statuses *xsync.MapOf[string, string]
	down     atomic.Bool
}

func NewMock(baseURL string) *Mock {
	return &Mock{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		statuses: xsync.NewMapOf[string, string](),
	}
}

func (m *Mock) CreatePaymentRequest(_ context.Context, o *models.Order) (*Request, error) {
	if m.down.Load() {
		return nil, ErrUnavailable
	}
	ref := "mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	png, err := qrcode.Encode(fmt.Sprintf("%s/api/mock-gateway/%s", m.BaseURL, ref), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	m.statuses.Store(ref, "pending")

	return &Request{
		Reference:  ref,
		ExternalID: "mockpay_" + o.ID,
		Artifact:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		ExpiresAt:  o.ExpiresAt,
	}, nil
}

func (m *Mock) FetchStatus(_ context.Context, reference string) (string, error) {
	if m.down.Load() {
		return "", ErrUnavailable
	}
	status, ok := m.statuses.Load(reference)
	if !ok {
		return "", ErrUnknownReference
	}
	return status, nil
}

// SetStatus simulates the shopper finishing (or abandoning) the payment.
func (m *Mock) SetStatus(reference, status string) error {
	updated := false
	m.statuses.Compute(reference, func(old string, loaded bool) (string, bool) {
		if !loaded {
			return old, true
		}
		updated = true
		return strings.ToLower(status), false
	})
	if !updated {
		return ErrUnknownReference
	}
	return nil
}

// SetAvailable toggles simulated outages.
func (m *Mock) SetAvailable(up bool) {
	m.down.Store(!up)
}

