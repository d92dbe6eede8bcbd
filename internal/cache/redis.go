package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// RemoteCache is the T2 distributed tier: gzip-compressed
// domain.CacheEntry values in Redis, each carrying its own TTL.
type RemoteCache struct {
	client      *redis.Client
	compression bool
	logger      *slog.Logger
}

// NewRemoteCache connects to Redis at addr and verifies reachability.
func NewRemoteCache(addr, password string, db, poolSize int, dialTimeout, readTimeout, writeTimeout time.Duration, compression bool, logger *slog.Logger) (*RemoteCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("remote cache initialized", "addr", addr, "db", db, "compression", compression)

	return &RemoteCache{client: client, compression: compression, logger: logger}, nil
}

// Get retrieves entry for key.
func (r *RemoteCache) Get(ctx context.Context, key string) (domain.CacheEntry, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.CacheEntry{}, ErrNotFound
	}
	if err != nil {
		r.logger.Error("remote cache get error", "error", err, "key", key)
		return domain.CacheEntry{}, ErrConnectionFailed
	}

	if r.compression {
		data, err = decompress(data)
		if err != nil {
			return domain.CacheEntry{}, errSerialization("decompression failed", err)
		}
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.CacheEntry{}, errSerialization("unmarshal failed", err)
	}
	return entry, nil
}

// Set stores entry under key with the given TTL.
func (r *RemoteCache) Set(ctx context.Context, key string, entry domain.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errSerialization("marshal failed", err)
	}

	if r.compression {
		data, err = compress(data)
		if err != nil {
			return errSerialization("compression failed", err)
		}
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Error("remote cache set error", "error", err, "key", key)
		return ErrConnectionFailed
	}
	return nil
}

// Delete removes key.
func (r *RemoteCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return ErrConnectionFailed
	}
	return nil
}

// Ping checks connectivity, used by the health aggregator.
func (r *RemoteCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (r *RemoteCache) Close() error {
	return r.client.Close()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
