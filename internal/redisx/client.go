package redisx

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Idempotency maps a client supplied Idempotency-Key to the order it created.
// Postgres stays the source of truth; a miss here only means the request is
// processed normally.
type Idempotency struct {
	RDB *redis.Client
	TTL time.Duration
}

// Lookup returns the order id remembered for key, if any.
func (i *Idempotency) Lookup(ctx context.Context, key string) (int64, bool, error) {
	s, err := i.RDB.Get(ctx, IdemOrderCreateKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (i *Idempotency) Remember(ctx context.Context, key string, orderID int64) error {
	ttl := i.TTL
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return i.RDB.Set(ctx, IdemOrderCreateKey(key), orderID, ttl).Err()
}

// Dedup records processed event ids per consuming service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// SeenBefore marks id as processed and reports whether it already was.
func (d *Dedup) SeenBefore(ctx context.Context, id string) (bool, error) {
	ok, err := d.RDB.SetNX(ctx, DedupKey(d.Service, id), 1, TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
