// Package cache provides a Redis-backed cache for normalized collections.
//
// Keys are scoped per resource type, proxy URL, and account ID. Default TTL
// is 5 minutes, enforced by Redis expiry. A missing or unreachable Redis is
// never an error: Get reports a miss and Put silently no-ops, so the
// application degrades to always fetching. Disable with CHATHOOK_NO_CACHE=1.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

const keyPrefix = "chathook:"

// opTimeout bounds each Redis round trip so an unreachable server cannot
// stall a refresh.
const opTimeout = 500 * time.Millisecond

type entry struct {
	CachedAt time.Time       `json:"cached_at"`
	Items    json.RawMessage `json:"items"`
}

// Store reads and writes a single cache key (resource+proxy+account).
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Dial connects to Redis using CHATHOOK_REDIS_ADDR (default localhost:6379)
// and CHATHOOK_REDIS_PASSWORD. The connection is lazy; failures surface as
// cache misses, never as errors.
func Dial() *redis.Client {
	addr := os.Getenv("CHATHOOK_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("CHATHOOK_REDIS_PASSWORD"),
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
}

// NewStore creates a Store with the default 5-minute TTL.
// key is the resource type (e.g. "inboxes"); baseURL is the proxy URL.
func NewStore(client *redis.Client, key, baseURL string, accountID int) *Store {
	return NewStoreWithTTL(client, key, baseURL, accountID, DefaultTTL)
}

// NewStoreWithTTL creates a Store with a custom TTL.
func NewStoreWithTTL(client *redis.Client, key, baseURL string, accountID int, ttl time.Duration) *Store {
	key = sanitizeKey(key)
	hash := sha1.Sum([]byte(baseURL))
	suffix := hex.EncodeToString(hash[:6])
	return &Store{
		client: client,
		key:    fmt.Sprintf("%s%s:%s:%d", keyPrefix, key, suffix, accountID),
		ttl:    ttl,
	}
}

// Get loads cached items into dst. Returns false on miss (no key, expired,
// unreachable, disabled).
func (s *Store) Get(dst any) bool {
	if disabled() || s.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		return false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false
	}
	// Redis expiry already enforces the TTL; the timestamp check guards
	// against entries written with a longer TTL by an older build.
	if time.Since(e.CachedAt) > s.ttl {
		return false
	}
	return json.Unmarshal(e.Items, dst) == nil
}

// Put writes items to the cache. Silently no-ops on error or when disabled.
func (s *Store) Put(items any) {
	if disabled() || s.client == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	data, err := json.Marshal(entry{
		CachedAt: time.Now(),
		Items:    raw,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_ = s.client.Set(ctx, s.key, data, s.ttl).Err()
}

// Clear removes this cache key.
func (s *Store) Clear() {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_ = s.client.Del(ctx, s.key).Err()
}

// ClearAll removes every key written by this application. Other keys in the
// same Redis are left alone.
func ClearAll(client *redis.Client) {
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		_ = client.Del(ctx, iter.Val()).Err()
	}
}

func disabled() bool {
	return os.Getenv("CHATHOOK_NO_CACHE") != ""
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "cache"
	}
	key = strings.ReplaceAll(key, "/", "-")
	key = strings.ReplaceAll(key, "\\", "-")
	key = strings.ReplaceAll(key, ":", "-")
	return key
}
