package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials the Redis instance backing the lease store and
// verifies it is reachable before the server starts taking traffic.
//
// The lease store only runs short Lua scripts against small keys, so the
// timeouts are tight: a call that takes longer than a second is a sign the
// instance is unhealthy, and failing fast lets the caller surface a
// conflict-free error instead of queueing. The pool is sized for bursts of
// concurrent acquires during clinic-open hours.
func NewRedisClient(addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     16,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	return rdb, nil
}
