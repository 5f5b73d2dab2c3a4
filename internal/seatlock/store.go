package seatlock

import (
	"context"
	"time"

	"ms-boxoffice/internal/models"
)

// Store holds seat locks. Every read treats a lock with now > expiresAt as
// absent whether or not it has been physically removed yet.
type Store interface {
	// Acquire writes all locks or none. When any seat already carries an
	// active lock, from any holder, nothing is written and those seats are
	// returned as conflicts.
	Acquire(ctx context.Context, locks []models.SeatLock, now time.Time) (conflicts []models.SeatKey, err error)
	// Get returns nil when the seat has no active lock.
	Get(ctx context.Context, key models.SeatKey, now time.Time) (*models.SeatLock, error)
	// Peek returns the stored lock even when expired, so callers can tell an
	// expired reservation from a seat that was never locked.
	Peek(ctx context.Context, key models.SeatKey) (*models.SeatLock, error)
	Active(ctx context.Context, showtimeID string, now time.Time) ([]models.SeatLock, error)
	// Release drops locks on the given seats regardless of holder.
	Release(ctx context.Context, keys []models.SeatKey) (int, error)
	// ReleaseHolder drops only the locks owned by holderID.
	ReleaseHolder(ctx context.Context, holderID string, keys []models.SeatKey) (int, error)
	// Claim stamps orderID on the holder's active, unclaimed locks for every
	// key, or on none of them. Keys that could not be claimed are returned.
	Claim(ctx context.Context, holderID, orderID string, keys []models.SeatKey, now time.Time) (failed []models.SeatKey, err error)
	// Unclaim clears orderID from locks it claimed, leaving them held.
	Unclaim(ctx context.Context, orderID string, keys []models.SeatKey) error
	// Consume removes the locks claimed by orderID and returns them.
	Consume(ctx context.Context, orderID string, keys []models.SeatKey) ([]models.SeatLock, error)
	// Sweep physically deletes locks that expired more than the store's
	// retention before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// DefaultRetention is how long an expired lock stays readable through Peek,
// so a late order is rejected as expired rather than as a seat conflict.
const DefaultRetention = 15 * time.Minute

// retained reports whether an expired lock is still inside the retention
// window at now.
func retained(l models.SeatLock, now time.Time, retention time.Duration) bool {
	return l.ActiveAt(now.Add(-retention))
}
