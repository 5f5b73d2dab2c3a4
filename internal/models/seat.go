package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type SeatType string

const (
	SeatStandard   SeatType = "STANDARD"
	SeatVIP        SeatType = "VIP"
	SeatAccessible SeatType = "ACCESSIBLE"
)

// SeatStatus is the per-seat view exposed by the availability calculator.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatLocked    SeatStatus = "locked"
	SeatOccupied  SeatStatus = "occupied"
)

// SeatRef names a seat inside a room.
type SeatRef struct {
	Row    string `json:"row" validate:"required,max=8"`
	Number int    `json:"seatNumber" validate:"gt=0"`
}

func (s SeatRef) Label() string {
	return fmt.Sprintf("%s-%d", s.Row, s.Number)
}

// ParseSeatRef is the inverse of Label.
func ParseSeatRef(label string) (SeatRef, error) {
	i := strings.LastIndex(label, "-")
	if i <= 0 || i == len(label)-1 {
		return SeatRef{}, fmt.Errorf("invalid seat label %q", label)
	}
	n, err := strconv.Atoi(label[i+1:])
	if err != nil || n <= 0 {
		return SeatRef{}, fmt.Errorf("invalid seat number in %q", label)
	}
	return SeatRef{Row: label[:i], Number: n}, nil
}

// SeatKey is the unit of exclusivity: one seat of one showtime.
type SeatKey struct {
	ShowtimeID string
	SeatRef
}

func NewSeatKey(showtimeID string, row string, number int) SeatKey {
	return SeatKey{ShowtimeID: showtimeID, SeatRef: SeatRef{Row: row, Number: number}}
}

func (k SeatKey) String() string {
	return k.ShowtimeID + "/" + k.Label()
}

// SortSeatKeys orders keys by showtime, row, then number.
func SortSeatKeys(keys []SeatKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ShowtimeID != b.ShowtimeID {
			return a.ShowtimeID < b.ShowtimeID
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Number < b.Number
	})
}

// SeatLock is a short-lived exclusive claim on a seat.
type SeatLock struct {
	ShowtimeID string    `json:"showtimeId"`
	Row        string    `json:"row"`
	SeatNumber int       `json:"seatNumber"`
	HolderID   string    `json:"holderId,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
	OrderID    string    `json:"orderId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (l SeatLock) Key() SeatKey {
	return NewSeatKey(l.ShowtimeID, l.Row, l.SeatNumber)
}

// ActiveAt reports whether the lock still holds at now. A lock whose
// expiresAt equals now is still active; it expires once now > expiresAt.
func (l SeatLock) ActiveAt(now time.Time) bool {
	return !now.After(l.ExpiresAt)
}

// SeatStatusEvent is published whenever seats change status.
type SeatStatusEvent struct {
	ShowtimeID string     `json:"showtimeId"`
	Seats      []string   `json:"seats"`
	Status     SeatStatus `json:"status"`
	OrderID    string     `json:"orderId,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}
