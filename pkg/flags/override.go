// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package flags

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOverridePrefix namespaces override keys in Redis.
const DefaultOverridePrefix = "opsflow:flags:override:"

// OverrideStore holds operator overrides that win over every rule.
type OverrideStore interface {
	// Get returns the override for key. found is false when none is set.
	Get(ctx context.Context, key string) (value bool, found bool, err error)
	// Set forces key to value. A ttl of 0 keeps it until cleared.
	Set(ctx context.Context, key string, value bool, ttl time.Duration) error
	// Clear removes the override for key.
	Clear(ctx context.Context, key string) error
}

// MemoryOverrideStore keeps overrides in process memory. TTLs are ignored.
type MemoryOverrideStore struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewMemoryOverrideStore returns an empty in-memory store.
func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{values: make(map[string]bool)}
}

// Get implements OverrideStore.
func (s *MemoryOverrideStore) Get(_ context.Context, key string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements OverrideStore.
func (s *MemoryOverrideStore) Set(_ context.Context, key string, value bool, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Clear implements OverrideStore.
func (s *MemoryOverrideStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// RedisConfig configures the Redis override store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" json:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" json:"password" yaml:"password"`
	DB       int           `mapstructure:"db" json:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// ApplyDefaults fills unset fields.
func (c *RedisConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Prefix == "" {
		c.Prefix = DefaultOverridePrefix
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

// RedisOverrideStore keeps overrides as "true"/"false" strings in Redis so
// operators can flip a kill switch with redis-cli.
type RedisOverrideStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisOverrideStore connects to Redis and verifies the connection.
func NewRedisOverrideStore(ctx context.Context, cfg RedisConfig) (*RedisOverrideStore, error) {
	cfg.ApplyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisOverrideStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisOverrideStoreWithClient wraps an existing client.
func NewRedisOverrideStoreWithClient(client redis.UniversalClient, prefix string) *RedisOverrideStore {
	if prefix == "" {
		prefix = DefaultOverridePrefix
	}
	return &RedisOverrideStore{client: client, prefix: prefix}
}

func (s *RedisOverrideStore) redisKey(key string) string {
	return s.prefix + key
}

// Get implements OverrideStore. Values that do not parse as booleans are
// reported as errors rather than ignored.
func (s *RedisOverrideStore) Get(ctx context.Context, key string) (bool, bool, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read override %s: %w", key, err)
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("override %s has non-boolean value %q", key, raw)
	}
	return value, true, nil
}

// Set implements OverrideStore.
func (s *RedisOverrideStore) Set(ctx context.Context, key string, value bool, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.redisKey(key), strconv.FormatBool(value), ttl).Err(); err != nil {
		return fmt.Errorf("failed to write override %s: %w", key, err)
	}
	return nil
}

// Clear implements OverrideStore.
func (s *RedisOverrideStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear override %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisOverrideStore) Close() error {
	return s.client.Close()
}
