package seatlock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-boxoffice/internal/models"
)

const (
	lockKeyPrefix  = "seat_lock:"
	indexKeyPrefix = "seat_lock_idx:"
)

// Each lock is a hash holding holder, showtime, row, seat and the expiry in
// unix milliseconds. Scripts compare that expiry against the caller's clock so
// a lock past its expiresAt is treated as absent even before redis evicts it.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local conflicts = {}
for i = 2, #KEYS do
  local exp = redis.call('HGET', KEYS[i], 'exp')
  if exp and tonumber(exp) >= now then
    table.insert(conflicts, KEYS[i])
  end
end
if #conflicts > 0 then
  return conflicts
end
local n = 3
for i = 2, #KEYS do
  redis.call('DEL', KEYS[i])
  redis.call('HSET', KEYS[i],
    'holder', ARGV[n], 'showtime', ARGV[n+1], 'row', ARGV[n+2], 'seat', ARGV[n+3],
    'exp', ARGV[n+4], 'created', ARGV[n+5])
  redis.call('PEXPIRE', KEYS[i], ttl)
  redis.call('SADD', KEYS[1], KEYS[i])
  n = n + 6
end
local idxTTL = redis.call('PTTL', KEYS[1])
if idxTTL < ttl then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {}
`)

var claimScript = redis.NewScript(`
local holder = ARGV[1]
local order = ARGV[2]
local now = tonumber(ARGV[3])
local failed = {}
for i = 1, #KEYS do
  local v = redis.call('HMGET', KEYS[i], 'holder', 'exp', 'order')
  local free = (not v[3]) or v[3] == '' or v[3] == order
  if not (v[1] == holder and v[2] and tonumber(v[2]) >= now and free) then
    table.insert(failed, KEYS[i])
  end
end
if #failed > 0 then
  return failed
end
for i = 1, #KEYS do
  redis.call('HSET', KEYS[i], 'order', order)
end
return {}
`)

var unclaimScript = redis.NewScript(`
for i = 1, #KEYS do
  if redis.call('HGET', KEYS[i], 'order') == ARGV[1] then
    redis.call('HDEL', KEYS[i], 'order')
  end
end
return 0
`)

var consumeScript = redis.NewScript(`
local out = {}
for i = 2, #KEYS do
  if redis.call('HGET', KEYS[i], 'order') == ARGV[1] then
    redis.call('DEL', KEYS[i])
    redis.call('SREM', KEYS[1], KEYS[i])
    table.insert(out, KEYS[i])
  end
end
return out
`)

var releaseHolderScript = redis.NewScript(`
local n = 0
for i = 2, #KEYS do
  if redis.call('HGET', KEYS[i], 'holder') == ARGV[1] then
    redis.call('DEL', KEYS[i])
    redis.call('SREM', KEYS[1], KEYS[i])
    n = n + 1
  end
end
return n
`)

// Redis is a Store shared by every service instance pointed at the same
// redis. Multi-seat writes run as one Lua script per showtime.
type Redis struct {
	Client *redis.Client
	// TTL is the lock lifetime; redis evicts a key only after TTL plus
	// Retention, so an expired lock stays readable through Peek meanwhile.
	TTL       time.Duration
	Retention time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{Client: client, TTL: ttl, Retention: DefaultRetention}
}

func lockKey(k models.SeatKey) string {
	return lockKeyPrefix + k.ShowtimeID + ":" + k.Label()
}

func indexKey(showtimeID string) string {
	return indexKeyPrefix + showtimeID
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// groupByShowtime keeps one script call per showtime so KEYS[1] is that
// showtime's index.
func groupByShowtime(keys []models.SeatKey) map[string][]models.SeatKey {
	out := make(map[string][]models.SeatKey)
	for _, k := range keys {
		out[k.ShowtimeID] = append(out[k.ShowtimeID], k)
	}
	return out
}

func (r *Redis) Acquire(ctx context.Context, locks []models.SeatLock, now time.Time) ([]models.SeatKey, error) {
	if len(locks) == 0 {
		return nil, nil
	}
	showtimeID := locks[0].ShowtimeID
	for _, l := range locks {
		if l.ShowtimeID != showtimeID {
			return nil, fmt.Errorf("seat locks span showtimes %s and %s", showtimeID, l.ShowtimeID)
		}
	}

	ttl := r.TTL
	if d := locks[0].ExpiresAt.Sub(now); d > ttl {
		ttl = d
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if r.Retention > 0 {
		ttl += r.Retention
	}

	keys := []string{indexKey(showtimeID)}
	args := []interface{}{millis(now), ttl.Milliseconds()}
	byKey := make(map[string]models.SeatKey, len(locks))
	for _, l := range locks {
		k := lockKey(l.Key())
		keys = append(keys, k)
		byKey[k] = l.Key()
		args = append(args, l.HolderID, l.ShowtimeID, l.Row, l.SeatNumber, millis(l.ExpiresAt), millis(l.CreatedAt))
	}

	res, err := acquireScript.Run(ctx, r.Client, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("acquire seat locks: %w", err)
	}
	var conflicts []models.SeatKey
	for _, k := range res {
		conflicts = append(conflicts, byKey[k])
	}
	return conflicts, nil
}

func (r *Redis) Get(ctx context.Context, key models.SeatKey, now time.Time) (*models.SeatLock, error) {
	vals, err := r.Client.HGetAll(ctx, lockKey(key)).Result()
	if err != nil {
		return nil, err
	}
	lock, ok := decodeLock(vals)
	if !ok || !lock.ActiveAt(now) {
		return nil, nil
	}
	return &lock, nil
}

func (r *Redis) Peek(ctx context.Context, key models.SeatKey) (*models.SeatLock, error) {
	vals, err := r.Client.HGetAll(ctx, lockKey(key)).Result()
	if err != nil {
		return nil, err
	}
	lock, ok := decodeLock(vals)
	if !ok {
		return nil, nil
	}
	return &lock, nil
}

func (r *Redis) Active(ctx context.Context, showtimeID string, now time.Time) ([]models.SeatLock, error) {
	members, err := r.Client.SMembers(ctx, indexKey(showtimeID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.Client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, m)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	var out []models.SeatLock
	var stale []interface{}
	for i, cmd := range cmds {
		lock, ok := decodeLock(cmd.Val())
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		if lock.ActiveAt(now) {
			out = append(out, lock)
		}
	}
	if len(stale) > 0 {
		r.Client.SRem(ctx, indexKey(showtimeID), stale...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].SeatNumber < out[j].SeatNumber
	})
	return out, nil
}

func (r *Redis) Release(ctx context.Context, keys []models.SeatKey) (int, error) {
	total := 0
	for showtimeID, group := range groupByShowtime(keys) {
		pipe := r.Client.TxPipeline()
		dels := make([]*redis.IntCmd, 0, len(group))
		for _, k := range group {
			dels = append(dels, pipe.Del(ctx, lockKey(k)))
			pipe.SRem(ctx, indexKey(showtimeID), lockKey(k))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return total, err
		}
		for _, d := range dels {
			total += int(d.Val())
		}
	}
	return total, nil
}

func (r *Redis) ReleaseHolder(ctx context.Context, holderID string, keys []models.SeatKey) (int, error) {
	total := 0
	for showtimeID, group := range groupByShowtime(keys) {
		rk := []string{indexKey(showtimeID)}
		for _, k := range group {
			rk = append(rk, lockKey(k))
		}
		n, err := releaseHolderScript.Run(ctx, r.Client, rk, holderID).Int()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Redis) Claim(ctx context.Context, holderID, orderID string, keys []models.SeatKey, now time.Time) ([]models.SeatKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rk := make([]string, len(keys))
	byKey := make(map[string]models.SeatKey, len(keys))
	for i, k := range keys {
		rk[i] = lockKey(k)
		byKey[rk[i]] = k
	}
	res, err := claimScript.Run(ctx, r.Client, rk, holderID, orderID, millis(now)).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim seat locks: %w", err)
	}
	var failed []models.SeatKey
	for _, k := range res {
		failed = append(failed, byKey[k])
	}
	return failed, nil
}

func (r *Redis) Unclaim(ctx context.Context, orderID string, keys []models.SeatKey) error {
	if len(keys) == 0 {
		return nil
	}
	rk := make([]string, len(keys))
	for i, k := range keys {
		rk[i] = lockKey(k)
	}
	return unclaimScript.Run(ctx, r.Client, rk, orderID).Err()
}

func (r *Redis) Consume(ctx context.Context, orderID string, keys []models.SeatKey) ([]models.SeatLock, error) {
	var consumed []models.SeatLock
	for showtimeID, group := range groupByShowtime(keys) {
		rk := []string{indexKey(showtimeID)}
		locks := make(map[string]models.SeatLock, len(group))
		for _, k := range group {
			key := lockKey(k)
			rk = append(rk, key)
			if vals, err := r.Client.HGetAll(ctx, key).Result(); err == nil {
				if lock, ok := decodeLock(vals); ok {
					locks[key] = lock
				}
			}
		}
		res, err := consumeScript.Run(ctx, r.Client, rk, orderID).StringSlice()
		if err != nil {
			return consumed, err
		}
		for _, k := range res {
			lock := locks[k]
			lock.OrderID = orderID
			consumed = append(consumed, lock)
		}
	}
	return consumed, nil
}

func (r *Redis) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := r.Client.Scan(ctx, 0, indexKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		idx := iter.Val()
		showtimeID := strings.TrimPrefix(idx, indexKeyPrefix)
		members, err := r.Client.SMembers(ctx, idx).Result()
		if err != nil {
			return removed, err
		}
		for _, m := range members {
			vals, err := r.Client.HGetAll(ctx, m).Result()
			if err != nil {
				return removed, err
			}
			lock, ok := decodeLock(vals)
			if ok && retained(lock, now, r.Retention) {
				continue
			}
			if ok {
				// Only delete if still past retention at the time of deletion.
				key := lock.Key()
				n, err := r.releaseIfExpired(ctx, showtimeID, key, now)
				if err != nil {
					return removed, err
				}
				removed += n
				continue
			}
			r.Client.SRem(ctx, idx, m)
		}
	}
	return removed, iter.Err()
}

var sweepScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[2], 'exp')
if exp and tonumber(exp) < tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[2])
  redis.call('SREM', KEYS[1], KEYS[2])
  return 1
end
return 0
`)

func (r *Redis) releaseIfExpired(ctx context.Context, showtimeID string, key models.SeatKey, now time.Time) (int, error) {
	cutoff := now.Add(-r.Retention)
	return sweepScript.Run(ctx, r.Client, []string{indexKey(showtimeID), lockKey(key)}, millis(cutoff)).Int()
}

func decodeLock(vals map[string]string) (models.SeatLock, bool) {
	if len(vals) == 0 {
		return models.SeatLock{}, false
	}
	seat, err := strconv.Atoi(vals["seat"])
	if err != nil {
		return models.SeatLock{}, false
	}
	exp, err := strconv.ParseInt(vals["exp"], 10, 64)
	if err != nil {
		return models.SeatLock{}, false
	}
	created, _ := strconv.ParseInt(vals["created"], 10, 64)
	return models.SeatLock{
		ShowtimeID: vals["showtime"],
		Row:        vals["row"],
		SeatNumber: seat,
		HolderID:   vals["holder"],
		ExpiresAt:  time.UnixMilli(exp).UTC(),
		CreatedAt:  time.UnixMilli(created).UTC(),
		OrderID:    vals["order"],
	}, true
}
