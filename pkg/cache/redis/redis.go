// Package redis is a cache store shared through a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "hwb:cache:"

// Store keeps each entry in a hash with response and created_at fields.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New connects to the server at url and verifies it answers.
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewFromClient(rdb, DefaultPrefix), nil
}

// NewFromClient wraps an existing client. Keys are prefix + fingerprint.
func NewFromClient(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(fingerprint string) string {
	return s.prefix + fingerprint
}

// Load retrieves an entry regardless of age.
func (s *Store) Load(ctx context.Context, fingerprint string) (models.CacheEntry, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return models.CacheEntry{}, false, nil
	}
	nanos, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("parse created_at: %w", err)
	}
	return models.CacheEntry{
		Fingerprint: fingerprint,
		Response:    fields["response"],
		CreatedAt:   time.Unix(0, nanos).UTC(),
	}, true, nil
}

// Save writes both fields in one HSET.
func (s *Store) Save(ctx context.Context, entry models.CacheEntry) error {
	err := s.rdb.HSet(ctx, s.key(entry.Fingerprint),
		"response", entry.Response,
		"created_at", entry.CreatedAt.UnixNano(),
	).Err()
	if err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// Count scans the key prefix.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.scan(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}

// Clear deletes entries created before the given time, or every entry when it is zero.
func (s *Store) Clear(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.scan(ctx, func(key string) error {
		if !before.IsZero() {
			raw, err := s.rdb.HGet(ctx, key, "created_at").Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("hget failed: %w", err)
			}
			nanos, err := strconv.ParseInt(raw, 10, 64)
			if err == nil && !time.Unix(0, nanos).Before(before) {
				return nil
			}
		}
		deleted, err := s.rdb.Del(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("del failed: %w", err)
		}
		n += deleted
		return nil
	})
	return n, err
}

func (s *Store) scan(ctx context.Context, fn func(key string) error) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
