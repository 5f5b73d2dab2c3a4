package seatlock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/seatguard"
)

// Occupancy reports the seats of a showtime that belong to a PAID order or a
// PENDING order still inside its window.
type Occupancy interface {
	OccupiedSeats(ctx context.Context, showtimeID string, now time.Time) ([]models.SeatRef, error)
}

// Layout resolves a showtime to its room.
type Layout interface {
	GetShowtime(ctx context.Context, id string) (*models.Showtime, error)
	GetRoomLayout(ctx context.Context, roomID string) (*models.Room, error)
}

// Notifier receives seat status changes after they are committed.
type Notifier interface {
	SeatsChanged(ctx context.Context, ev models.SeatStatusEvent)
}

type Service struct {
	Store     Store
	Guard     *seatguard.Guard
	Occupancy Occupancy
	Layout    Layout
	Clock     clock.Clock
	TTL       time.Duration
	Notifier  Notifier
	Logger    *logger.Logger
}

type AcquireResult struct {
	HolderID  string            `json:"holderId"`
	Locks     []models.SeatLock `json:"locks"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Acquire locks every requested seat for holderID or none of them. holderID
// is a requester owner (see models.Requester.Owner). A missing one gets a
// fresh anonymous owner; the result carries the id the client sends back.
func (s *Service) Acquire(ctx context.Context, showtimeID string, seats []models.SeatRef, holderID string) (*AcquireResult, error) {
	if len(seats) == 0 {
		return nil, apperr.New(apperr.Validation, "at least one seat is required")
	}
	if err := s.validateSeats(ctx, showtimeID, seats); err != nil {
		return nil, err
	}
	if holderID == "" {
		holderID = models.AnonymousOwner(uuid.NewString())
	}

	keys := make([]models.SeatKey, len(seats))
	for i, ref := range seats {
		keys[i] = models.SeatKey{ShowtimeID: showtimeID, SeatRef: ref}
	}

	unlock := s.Guard.Lock(keys...)
	defer unlock()

	now := s.Clock.Now()

	occupied, err := s.Occupancy.OccupiedSeats(ctx, showtimeID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load occupied seats")
	}
	taken := make(map[string]bool, len(occupied))
	for _, ref := range occupied {
		taken[ref.Label()] = true
	}
	var conflicts []string
	for _, k := range keys {
		if taken[k.Label()] {
			conflicts = append(conflicts, k.Label())
		}
	}
	if len(conflicts) > 0 {
		s.Logger.LogSeat("LOCK_REJECTED", showtimeID, fmt.Sprintf("occupied: %s", strings.Join(conflicts, ",")))
		return nil, apperr.Conflict(conflicts)
	}

	expiresAt := now.Add(s.TTL)
	locks := make([]models.SeatLock, len(keys))
	for i, k := range keys {
		locks[i] = models.SeatLock{
			ShowtimeID: showtimeID,
			Row:        k.Row,
			SeatNumber: k.Number,
			HolderID:   holderID,
			ExpiresAt:  expiresAt,
			CreatedAt:  now,
		}
	}

	clash, err := s.Store.Acquire(ctx, locks, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "write seat locks")
	}
	if len(clash) > 0 {
		labels := make([]string, len(clash))
		for i, k := range clash {
			labels[i] = k.Label()
		}
		s.Logger.LogSeat("LOCK_REJECTED", showtimeID, fmt.Sprintf("already locked: %s", strings.Join(labels, ",")))
		return nil, apperr.Conflict(labels)
	}

	s.Logger.LogSeat("LOCKED", showtimeID, fmt.Sprintf("%d seat(s) for holder %s until %s", len(locks), holderID, expiresAt.Format(time.RFC3339)))
	s.notify(ctx, showtimeID, keys, models.SeatLocked, "")

	return &AcquireResult{HolderID: models.HolderID(holderID), Locks: locks, ExpiresAt: expiresAt}, nil
}

// Release removes locks on the given seats whoever holds them.
func (s *Service) Release(ctx context.Context, keys []models.SeatKey) error {
	if len(keys) == 0 {
		return nil
	}
	n, err := s.Store.Release(ctx, keys)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "release seat locks")
	}
	if n > 0 {
		s.Logger.LogSeat("RELEASED", keys[0].ShowtimeID, fmt.Sprintf("%d leftover lock(s)", n))
	}
	return nil
}

// ReleaseForHolder drops the holder's own locks. With no seats given it
// drops every lock the holder has on the showtime.
func (s *Service) ReleaseForHolder(ctx context.Context, showtimeID, holderID string, seats []models.SeatRef) (int, error) {
	if holderID == "" {
		return 0, apperr.New(apperr.Validation, "holder id is required")
	}

	var keys []models.SeatKey
	if len(seats) == 0 {
		active, err := s.Store.Active(ctx, showtimeID, s.Clock.Now())
		if err != nil {
			return 0, apperr.Wrap(apperr.Internal, err, "list seat locks")
		}
		for _, l := range active {
			if l.HolderID == holderID {
				keys = append(keys, l.Key())
			}
		}
	} else {
		for _, ref := range seats {
			keys = append(keys, models.SeatKey{ShowtimeID: showtimeID, SeatRef: ref})
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	unlock := s.Guard.Lock(keys...)
	defer unlock()

	n, err := s.Store.ReleaseHolder(ctx, holderID, keys)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "release seat locks")
	}
	if n > 0 {
		s.Logger.LogSeat("UNLOCKED", showtimeID, fmt.Sprintf("%d seat(s) released by holder %s", n, holderID))
		s.notify(ctx, showtimeID, keys, models.SeatAvailable, "")
	}
	return n, nil
}

// Sweep reclaims storage held by expired locks.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.Store.Sweep(ctx, s.Clock.Now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.Logger.Error("SEAT", fmt.Sprintf("lock sweep failed: %v", err))
				continue
			}
			if n > 0 {
				s.Logger.Debug("SEAT", fmt.Sprintf("swept %d expired lock(s)", n))
			}
		}
	}
}

func (s *Service) validateSeats(ctx context.Context, showtimeID string, seats []models.SeatRef) error {
	show, err := s.Layout.GetShowtime(ctx, showtimeID)
	if err != nil {
		return err
	}
	room, err := s.Layout.GetRoomLayout(ctx, show.RoomID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(seats))
	var unknown []string
	for _, ref := range seats {
		if seen[ref.Label()] {
			return apperr.New(apperr.Validation, "seat %s requested twice", ref.Label())
		}
		seen[ref.Label()] = true
		if _, ok := room.FindSeat(ref); !ok {
			unknown = append(unknown, ref.Label())
		}
	}
	if len(unknown) > 0 {
		return &apperr.Error{Kind: apperr.Validation, Message: "seats do not exist in this room", Seats: unknown}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, showtimeID string, keys []models.SeatKey, status models.SeatStatus, orderID string) {
	if s.Notifier == nil {
		return
	}
	labels := make([]string, len(keys))
	for i, k := range keys {
		labels[i] = k.Label()
	}
	s.Notifier.SeatsChanged(ctx, models.SeatStatusEvent{
		ShowtimeID: showtimeID,
		Seats:      labels,
		Status:     status,
		OrderID:    orderID,
		OccurredAt: s.Clock.Now(),
	})
}
