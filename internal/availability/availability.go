// Package availability merges the room layout, active seat locks and sold
// seats into the per-seat view shoppers pick from.
package availability

import (
	"context"
	"fmt"
	"time"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/seatlock"
)

type Calculator struct {
	Layout    seatlock.Layout
	Occupancy seatlock.Occupancy
	Locks     seatlock.Store
	Clock     clock.Clock
	Logger    *logger.Logger
}

type SeatView struct {
	Number int               `json:"number"`
	Type   models.SeatType   `json:"type"`
	Zone   string            `json:"zone,omitempty"`
	Status models.SeatStatus `json:"status"`
}

type RowView struct {
	Row   string     `json:"row"`
	Seats []SeatView `json:"seats"`
}

type Counts struct {
	Available int `json:"available"`
	Locked    int `json:"locked"`
	Occupied  int `json:"occupied"`
}

type View struct {
	Showtime models.Showtime `json:"showtime"`
	Rows     []RowView       `json:"rows"`
	Counts   Counts          `json:"counts"`
	// AsOf is the instant the view was computed at.
	AsOf time.Time `json:"asOf"`
}

// Availability is computed fresh on every call. Occupied wins over locked,
// which covers the short window between an order claiming a lock and the
// lock being consumed.
func (c *Calculator) Availability(ctx context.Context, showtimeID string) (*View, error) {
	show, err := c.Layout.GetShowtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	room, err := c.Layout.GetRoomLayout(ctx, show.RoomID)
	if err != nil {
		return nil, err
	}

	now := c.Clock.Now()
	sold, err := c.Occupancy.OccupiedSeats(ctx, showtimeID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load occupied seats")
	}
	locks, err := c.Locks.Active(ctx, showtimeID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load seat locks")
	}

	status := make(map[string]models.SeatStatus, len(sold)+len(locks))
	for _, l := range locks {
		status[l.Key().Label()] = models.SeatLocked
	}
	for _, s := range sold {
		status[s.Label()] = models.SeatOccupied
	}

	v := &View{Showtime: *show, Rows: make([]RowView, 0, len(room.Rows)), AsOf: now}
	for _, row := range room.Rows {
		rv := RowView{Row: row.Label, Seats: make([]SeatView, 0, len(row.Seats))}
		for _, seat := range row.Seats {
			ref := models.SeatRef{Row: row.Label, Number: seat.Number}
			st, ok := status[ref.Label()]
			if !ok {
				st = models.SeatAvailable
			}
			typ := seat.Type
			if typ == "" {
				typ = models.SeatStandard
			}
			switch st {
			case models.SeatAvailable:
				v.Counts.Available++
			case models.SeatLocked:
				v.Counts.Locked++
			case models.SeatOccupied:
				v.Counts.Occupied++
			}
			rv.Seats = append(rv.Seats, SeatView{Number: seat.Number, Type: typ, Zone: seat.Zone, Status: st})
		}
		v.Rows = append(v.Rows, rv)
	}

	c.Logger.Debug("SEAT", fmt.Sprintf("availability %s: %d available, %d locked, %d occupied",
		showtimeID, v.Counts.Available, v.Counts.Locked, v.Counts.Occupied))
	return v, nil
}
