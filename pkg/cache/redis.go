package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

const redisKeyPrefix = "certkernel:result:"

// Redis shares results between kernel replicas.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr. A zero ttl keeps entries until evicted by Redis.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: rdb, ttl: ttl}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (diag.Result, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return diag.Result{}, false, nil
	}
	if err != nil {
		return diag.Result{}, false, fmt.Errorf("cache: redis get: %w", err)
	}

	var res diag.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return diag.Result{}, false, fmt.Errorf("cache: redis decode %s: %w", key, err)
	}
	return diag.NewResult(res.Diagnostics), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, res diag.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: redis encode: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
