package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"eventletter/internal/config"
)

// ErrEmptyAddress is returned when the redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const redisConnectTimeout = 5 * time.Second

// RedisBackend stores each table as one hash under prefix+table.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisBackend{client: client, prefix: cfg.Prefix}, nil
}

func (b *RedisBackend) key(table string) string { return b.prefix + table }

func (b *RedisBackend) Load(ctx context.Context, table string) (Rows, error) {
	m, err := b.client.HGetAll(ctx, b.key(table)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", table, err)
	}
	rows := make(Rows, len(m))
	for k, v := range m {
		rows[k] = json.RawMessage(v)
	}
	return rows, nil
}

// Save replaces the hash inside MULTI/EXEC so readers never see a partial table.
func (b *RedisBackend) Save(ctx context.Context, table string, rows Rows) error {
	key := b.key(table)
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(rows) == 0 {
			return nil
		}
		fields := make(map[string]any, len(rows))
		for k, v := range rows {
			fields[k] = string(v)
		}
		p.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", table, err)
	}
	return nil
}

func (b *RedisBackend) Close() error { return b.client.Close() }
