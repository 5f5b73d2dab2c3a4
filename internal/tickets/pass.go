// Package tickets issues the door passes for paid orders: one encrypted QR
// code per seat, checked again at the entrance.
package tickets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

// Pass is the payload sealed inside a ticket QR code.
type Pass struct {
	OrderID    string    `json:"o"`
	ShowtimeID string    `json:"s"`
	Row        string    `json:"r"`
	SeatNumber int       `json:"n"`
	IssuedAt   time.Time `json:"t"`
}

func (p Pass) Label() string {
	return models.SeatRef{Row: p.Row, Number: p.SeatNumber}.Label()
}

// Ticket is what the buyer downloads.
type Ticket struct {
	ShowtimeID string `json:"showtimeId"`
	Seat       string `json:"seat"`
	Code       string `json:"code"`
	QR         string `json:"qr"`
}

type Issuer struct {
	aead cipher.AEAD
}

func NewIssuer(secret string) (*Issuer, error) {
	key := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Issuer{aead: aead}, nil
}

// Issue returns one ticket per seat of a PAID order.
func (i *Issuer) Issue(o *models.Order, now time.Time) ([]Ticket, error) {
	if o.Status != models.OrderPaid {
		return nil, apperr.New(apperr.Validation, "tickets are issued for paid orders only, order is %s", o.Status)
	}
	var out []Ticket
	for _, key := range o.SeatKeys() {
		code, err := i.seal(Pass{OrderID: o.ID, ShowtimeID: key.ShowtimeID, Row: key.Row, SeatNumber: key.Number, IssuedAt: now})
		if err != nil {
			return nil, err
		}
		png, err := qrcode.Encode(code, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode qr: %w", err)
		}
		out = append(out, Ticket{
			ShowtimeID: key.ShowtimeID,
			Seat:       key.Label(),
			Code:       code,
			QR:         "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		})
	}
	return out, nil
}

// Open decrypts a scanned code. Tampered or foreign codes fail.
func (i *Issuer) Open(code string) (*Pass, error) {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "malformed ticket code")
	}
	ns := i.aead.NonceSize()
	if len(raw) < ns {
		return nil, apperr.New(apperr.Validation, "malformed ticket code")
	}
	data, err := i.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, errors.New("signature mismatch"), "ticket code is not valid")
	}
	var p Pass
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "malformed ticket payload")
	}
	return &p, nil
}

func (i *Issuer) seal(p Pass) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, i.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := i.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}
