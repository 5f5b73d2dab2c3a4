package seatlock

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"ms-boxoffice/internal/models"
)

type seatMap = xsync.MapOf[string, models.SeatLock]

// Memory is an in-process Store indexed by showtime, then seat label.
type Memory struct {
	showtimes *xsync.MapOf[string, *seatMap]
	// Retention keeps expired locks around for Peek until Sweep drops them.
	Retention time.Duration
}

func NewMemory() *Memory {
	return &Memory{showtimes: xsync.NewMapOf[string, *seatMap](), Retention: DefaultRetention}
}

func (m *Memory) seats(showtimeID string) *seatMap {
	s, _ := m.showtimes.LoadOrCompute(showtimeID, func() *seatMap {
		return xsync.NewMapOf[string, models.SeatLock]()
	})
	return s
}

func (m *Memory) Acquire(_ context.Context, locks []models.SeatLock, now time.Time) ([]models.SeatKey, error) {
	var conflicts []models.SeatKey
	var written []models.SeatLock

	for _, lock := range locks {
		claimed := false
		m.seats(lock.ShowtimeID).Compute(lock.Key().Label(), func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
			if loaded && old.ActiveAt(now) {
				return old, false
			}
			claimed = true
			return lock, false
		})
		if !claimed {
			conflicts = append(conflicts, lock.Key())
			continue
		}
		written = append(written, lock)
	}

	if len(conflicts) > 0 {
		// Undo our own claims only; a concurrent winner stays untouched.
		for _, lock := range written {
			m.seats(lock.ShowtimeID).Compute(lock.Key().Label(), func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
				if loaded && sameLock(old, lock) {
					return old, true
				}
				return old, !loaded
			})
		}
		return conflicts, nil
	}
	return nil, nil
}

func (m *Memory) Get(_ context.Context, key models.SeatKey, now time.Time) (*models.SeatLock, error) {
	lock, ok := m.seats(key.ShowtimeID).Load(key.Label())
	if !ok || !lock.ActiveAt(now) {
		return nil, nil
	}
	return &lock, nil
}

func (m *Memory) Peek(_ context.Context, key models.SeatKey) (*models.SeatLock, error) {
	lock, ok := m.seats(key.ShowtimeID).Load(key.Label())
	if !ok {
		return nil, nil
	}
	return &lock, nil
}

func (m *Memory) Active(_ context.Context, showtimeID string, now time.Time) ([]models.SeatLock, error) {
	s, ok := m.showtimes.Load(showtimeID)
	if !ok {
		return nil, nil
	}
	var out []models.SeatLock
	s.Range(func(_ string, lock models.SeatLock) bool {
		if lock.ActiveAt(now) {
			out = append(out, lock)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].SeatNumber < out[j].SeatNumber
	})
	return out, nil
}

func (m *Memory) Release(_ context.Context, keys []models.SeatKey) (int, error) {
	n := 0
	for _, key := range keys {
		if _, ok := m.seats(key.ShowtimeID).LoadAndDelete(key.Label()); ok {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ReleaseHolder(_ context.Context, holderID string, keys []models.SeatKey) (int, error) {
	n := 0
	for _, key := range keys {
		m.seats(key.ShowtimeID).Compute(key.Label(), func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
			if !loaded {
				return old, true
			}
			if old.HolderID == holderID {
				n++
				return old, true
			}
			return old, false
		})
	}
	return n, nil
}

func (m *Memory) Claim(ctx context.Context, holderID, orderID string, keys []models.SeatKey, now time.Time) ([]models.SeatKey, error) {
	var failed []models.SeatKey
	var claimed []models.SeatKey
	for _, key := range keys {
		ok := false
		m.seats(key.ShowtimeID).Compute(key.Label(), func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
			if !loaded {
				return old, true
			}
			if old.HolderID == holderID && old.ActiveAt(now) && (old.OrderID == "" || old.OrderID == orderID) {
				old.OrderID = orderID
				ok = true
			}
			return old, false
		})
		if ok {
			claimed = append(claimed, key)
		} else {
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		_ = m.Unclaim(ctx, orderID, claimed)
		return failed, nil
	}
	return nil, nil
}

func (m *Memory) Unclaim(_ context.Context, orderID string, keys []models.SeatKey) error {
	for _, key := range keys {
		m.seats(key.ShowtimeID).Compute(key.Label(), func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
			if !loaded {
				return old, true
			}
			if old.OrderID == orderID {
				old.OrderID = ""
			}
			return old, false
		})
	}
	return nil
}

func (m *Memory) Consume(_ context.Context, orderID string, keys []models.SeatKey) ([]models.SeatLock, error) {
	var consumed []models.SeatLock
	for _, key := range keys {
		m.seats(key.ShowtimeID).Compute(key.Label(), func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
			if !loaded {
				return old, true
			}
			if old.OrderID != orderID {
				return old, false
			}
			consumed = append(consumed, old)
			return old, true
		})
	}
	return consumed, nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	n := 0
	m.showtimes.Range(func(_ string, s *seatMap) bool {
		s.Range(func(label string, lock models.SeatLock) bool {
			if retained(lock, now, m.Retention) {
				return true
			}
			s.Compute(label, func(old models.SeatLock, loaded bool) (models.SeatLock, bool) {
				if loaded && !retained(old, now, m.Retention) {
					n++
					return old, true
				}
				return old, !loaded
			})
			return true
		})
		return true
	})
	return n, nil
}

func sameLock(a, b models.SeatLock) bool {
	return a.HolderID == b.HolderID && a.ExpiresAt.Equal(b.ExpiresAt) && a.CreatedAt.Equal(b.CreatedAt)
}
