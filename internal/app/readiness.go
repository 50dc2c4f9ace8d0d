package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a dependency capable of Ping. Both
// *pgxpool.Pool and the Redpanda producer/consumer satisfy it.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// BuildReadinessChecks returns three readiness checks: database, work queue
// and Redis. The API server wires the first two; the worker's ops listener
// wires Redis as well when the distributed limiter is configured. A nil
// dependency yields a check that reports it as not configured.
func BuildReadinessChecks(pool Pinger, queue Pinger, rdb RedisClient) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	queueCheck := func(ctx context.Context) error {
		if queue == nil {
			return fmt.Errorf("work queue not configured")
		}
		return queue.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	return dbCheck, queueCheck, redisCheck
}
