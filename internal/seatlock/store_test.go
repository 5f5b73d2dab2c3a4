package seatlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-boxoffice/internal/models"
)

var base = time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)

// setupTestRedis starts an in-memory redis server for the duration of the test.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func stores(t *testing.T) map[string]Store {
	client, _ := setupTestRedis(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(client, 15*time.Minute),
	}
}

func lockFor(holder string, row string, n int, ttl time.Duration) models.SeatLock {
	return models.SeatLock{
		ShowtimeID: "show-1",
		Row:        row,
		SeatNumber: n,
		HolderID:   holder,
		ExpiresAt:  base.Add(ttl),
		CreatedAt:  base,
	}
}

func TestStoreAcquireAllOrNothing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conflicts, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "A", 2, time.Minute)}, base)
			require.NoError(t, err)
			require.Empty(t, conflicts)

			conflicts, err = s.Acquire(ctx, []models.SeatLock{
				lockFor("bob", "A", 1, time.Minute),
				lockFor("bob", "A", 2, time.Minute),
				lockFor("bob", "A", 3, time.Minute),
			}, base)
			require.NoError(t, err)
			require.Len(t, conflicts, 1)
			assert.Equal(t, "A-2", conflicts[0].Label())

			active, err := s.Active(ctx, "show-1", base)
			require.NoError(t, err)
			require.Len(t, active, 1, "a rejected batch writes nothing")
			assert.Equal(t, "alice", active[0].HolderID)
		})
	}
}

func TestStoreSameHolderCannotRelock(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "A", 1, time.Minute)}, base)
			require.NoError(t, err)

			conflicts, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "A", 1, time.Minute)}, base)
			require.NoError(t, err)
			assert.Len(t, conflicts, 1)
		})
	}
}

func TestStoreExpiredLocksAreAbsent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "A", 1, time.Minute)}, base)
			require.NoError(t, err)

			at := base.Add(time.Minute)
			got, err := s.Get(ctx, models.NewSeatKey("show-1", "A", 1), at)
			require.NoError(t, err)
			assert.NotNil(t, got, "still active exactly at expiresAt")

			later := base.Add(time.Minute + time.Second)
			got, err = s.Get(ctx, models.NewSeatKey("show-1", "A", 1), later)
			require.NoError(t, err)
			assert.Nil(t, got)

			active, err := s.Active(ctx, "show-1", later)
			require.NoError(t, err)
			assert.Empty(t, active)

			raw, err := s.Peek(ctx, models.NewSeatKey("show-1", "A", 1))
			require.NoError(t, err)
			require.NotNil(t, raw, "peek still sees the expired lock")
			assert.Equal(t, "alice", raw.HolderID)

			relock := lockFor("bob", "A", 1, 2*time.Minute)
			relock.CreatedAt = later
			conflicts, err := s.Acquire(ctx, []models.SeatLock{relock}, later)
			require.NoError(t, err)
			assert.Empty(t, conflicts)
		})
	}
}

func TestStoreClaimUnclaimConsume(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a1 := models.NewSeatKey("show-1", "A", 1)
			a2 := models.NewSeatKey("show-1", "A", 2)
			a3 := models.NewSeatKey("show-1", "A", 3)

			_, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "A", 1, time.Minute), lockFor("alice", "A", 3, time.Minute)}, base)
			require.NoError(t, err)
			_, err = s.Acquire(ctx, []models.SeatLock{lockFor("bob", "A", 2, time.Minute)}, base)
			require.NoError(t, err)

			failed, err := s.Claim(ctx, "alice", "order-1", []models.SeatKey{a1, a2}, base)
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, a2, failed[0])

			got, err := s.Get(ctx, a1, base)
			require.NoError(t, err)
			assert.Empty(t, got.OrderID, "a failed claim leaves no stamp behind")

			failed, err = s.Claim(ctx, "alice", "order-1", []models.SeatKey{a1, a3}, base)
			require.NoError(t, err)
			require.Empty(t, failed)

			failed, err = s.Claim(ctx, "alice", "order-2", []models.SeatKey{a1}, base)
			require.NoError(t, err)
			assert.Len(t, failed, 1, "a lock claimed by one order cannot be claimed by another")

			require.NoError(t, s.Unclaim(ctx, "order-1", []models.SeatKey{a3}))
			got, err = s.Get(ctx, a3, base)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Empty(t, got.OrderID)

			consumed, err := s.Consume(ctx, "order-1", []models.SeatKey{a1, a2, a3})
			require.NoError(t, err)
			require.Len(t, consumed, 1)
			assert.Equal(t, "order-1", consumed[0].OrderID)
			assert.Equal(t, 1, consumed[0].SeatNumber)

			active, err := s.Active(ctx, "show-1", base)
			require.NoError(t, err)
			assert.Len(t, active, 2)
		})
	}
}

func TestStoreClaimRejectsExpiredLock(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "A", 1, time.Minute)}, base)
			require.NoError(t, err)

			failed, err := s.Claim(ctx, "alice", "order-1", []models.SeatKey{models.NewSeatKey("show-1", "A", 1)}, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Len(t, failed, 1)
		})
	}
}

func TestStoreReleaseAndSweep(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Acquire(ctx, []models.SeatLock{
				lockFor("alice", "A", 1, time.Minute),
				lockFor("alice", "A", 2, time.Minute),
			}, base)
			require.NoError(t, err)
			_, err = s.Acquire(ctx, []models.SeatLock{lockFor("bob", "B", 1, time.Hour)}, base)
			require.NoError(t, err)

			n, err := s.ReleaseHolder(ctx, "bob", []models.SeatKey{models.NewSeatKey("show-1", "A", 1)})
			require.NoError(t, err)
			assert.Equal(t, 0, n, "bob cannot release alice's seat")

			n, err = s.Release(ctx, []models.SeatKey{models.NewSeatKey("show-1", "A", 1)})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			swept, err := s.Sweep(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 0, swept, "expired lock is kept while inside retention")

			swept, err = s.Sweep(ctx, base.Add(20*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, swept)

			active, err := s.Active(ctx, "show-1", base.Add(20*time.Minute))
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "B", active[0].Row)
		})
	}
}

func TestStoreConcurrentAcquireHasOneWinner(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					conflicts, err := s.Acquire(ctx, []models.SeatLock{
						lockFor(string(rune('a'+i)), "C", 5, time.Minute),
					}, base)
					assert.NoError(t, err)
					if len(conflicts) == 0 {
						atomic.AddInt32(&wins, 1)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins)
		})
	}
}

func TestRedisLocksCarryRedisTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client, 15*time.Minute)

	_, err := s.Acquire(context.Background(), []models.SeatLock{lockFor("alice", "A", 1, 15*time.Minute)}, base)
	require.NoError(t, err)

	key := lockKey(models.NewSeatKey("show-1", "A", 1))
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	mr.FastForward(16 * time.Minute)
	assert.True(t, mr.Exists(key), "expired lock stays until retention runs out")

	mr.FastForward(15 * time.Minute)
	assert.False(t, mr.Exists(key))
}

func TestStorePeekKeepsExpiredLockUntilRetentionEnds(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := models.NewSeatKey("show-1", "D", 1)
			_, err := s.Acquire(ctx, []models.SeatLock{lockFor("alice", "D", 1, 15*time.Minute)}, base)
			require.NoError(t, err)

			late := base.Add(16 * time.Minute)
			_, err = s.Sweep(ctx, late)
			require.NoError(t, err)

			got, err := s.Get(ctx, key, late)
			require.NoError(t, err)
			assert.Nil(t, got)

			peeked, err := s.Peek(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, peeked)
			assert.Equal(t, "alice", peeked.HolderID)
			assert.False(t, peeked.ActiveAt(late))

			_, err = s.Sweep(ctx, base.Add(31*time.Minute))
			require.NoError(t, err)
			peeked, err = s.Peek(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, peeked)
		})
	}
}
