package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"ms-boxoffice/internal/apperr"
)

// Notification is the message upstream payment services publish when a
// gateway reports back. A bare string body is accepted as the reference.
type Notification struct {
	Reference string `json:"reference"`
}

func DecodeNotification(value []byte) (Notification, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return Notification{}, apperr.New(apperr.Validation, "empty payment notification")
	}
	var n Notification
	if value[0] == '{' {
		if err := json.Unmarshal(value, &n); err != nil {
			return Notification{}, apperr.Wrap(apperr.Validation, err, "malformed payment notification")
		}
	} else {
		n.Reference = string(value)
	}
	n.Reference = strings.TrimSpace(n.Reference)
	if n.Reference == "" {
		return Notification{}, apperr.New(apperr.Validation, "payment notification has no reference")
	}
	return n, nil
}

// HandleNotification decodes a queued notification and reconciles it.
// Unknown references are logged and dropped so they do not redeliver forever.
func (h *Handler) HandleNotification(ctx context.Context, value []byte) error {
	n, err := DecodeNotification(value)
	if err != nil {
		return err
	}
	if _, err := h.OnGatewayEvent(ctx, n.Reference); err != nil {
		if apperr.Is(err, apperr.PaymentNotFound) {
			h.Logger.Warn("PAYMENT", "dropping notification for unknown reference "+n.Reference)
			return nil
		}
		return err
	}
	return nil
}
