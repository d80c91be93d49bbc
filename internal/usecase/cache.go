package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conductor/internal/domain"
)

// CacheConfig configures the result memoizer.
type CacheConfig struct {
	// TTL is the entry lifetime. Zero or below disables caching entirely
	// (the per-capability opt-out).
	TTL time.Duration `yaml:"ttl"`
	// MaxEntryBytes refuses entries whose serialized size exceeds it.
	MaxEntryBytes int `yaml:"max_entry_bytes"`
	// KeyPrefix namespaces memoizer state in the shared KV store.
	KeyPrefix string `yaml:"key_prefix"`
}

const defaultMaxEntryBytes = 256 * 1024

// cacheEntry is the persisted envelope around a memoized response.
type cacheEntry struct {
	Data               domain.Response `json:"data"`
	CachedAt           time.Time       `json:"cached_at"`
	TTLSeconds         int64           `json:"ttl_seconds"`
	SizeBytes          int             `json:"size_bytes"`
	HitCount           int64           `json:"hit_count"`
	WorkerID           string          `json:"worker_id"`
	RequestFingerprint string          `json:"request_fingerprint"`
}

// ResultCache memoizes prior responses keyed by a content fingerprint.
// Two requests with identical business content but different callers or
// timestamps hash identically and share an entry: content, not caller, is
// interned. All failures are soft; a broken backend degrades to misses.
type ResultCache struct {
	store  domain.KVStore
	cfg    CacheConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewResultCache creates a memoizer over the given store.
func NewResultCache(store domain.KVStore, cfg CacheConfig, logger *slog.Logger) *ResultCache {
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = defaultMaxEntryBytes
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "memo"
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &ResultCache{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// volatileKeys are payload fields excluded from the fingerprint so that
// caller identity and timing never affect cache identity.
var volatileKeys = map[string]bool{
	"id":           true,
	"caller_id":    true,
	"session_id":   true,
	"submitted_at": true,
	"timestamp":    true,
}

// Fingerprint hashes a canonicalized projection of the request payload.
// encoding/json sorts map keys, which gives the canonical form for free.
func Fingerprint(req domain.Request) string {
	projected := make(map[string]any, len(req.Payload))
	for k, v := range req.Payload {
		if volatileKeys[k] {
			continue
		}
		projected[k] = v
	}
	raw, err := json.Marshal(projected)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", projected))
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:16]) // 128-bit key, sufficient for dedup
}

// key scopes entries by intent so that pattern invalidation can bust a
// whole capability's namespace.
func (c *ResultCache) key(req domain.Request) string {
	intent := intentOf(req)
	if intent == "" {
		intent = "_"
	}
	return fmt.Sprintf("%s:%s:%s", c.cfg.KeyPrefix, intent, Fingerprint(req))
}

// Get returns the memoized response for a request, or (nil, false) on a
// miss. Expiry is checked lazily at read time; a hit increments HitCount
// and refreshes the TTL window, so reads extend lifetime.
func (c *ResultCache) Get(ctx context.Context, req domain.Request) (*domain.Response, bool) {
	if c.cfg.TTL <= 0 {
		return nil, false
	}

	key := c.key(req)
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("cache backend read failed, treating as miss", "error", err)
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.store.Delete(ctx, key)
		return nil, false
	}

	now := c.now()
	if now.After(entry.CachedAt.Add(time.Duration(entry.TTLSeconds) * time.Second)) {
		_ = c.store.Delete(ctx, key)
		return nil, false
	}

	entry.HitCount++
	entry.CachedAt = now
	if updated, err := json.Marshal(entry); err == nil {
		if err := c.store.Set(ctx, key, updated, c.cfg.TTL); err != nil {
			c.logger.Warn("cache hit refresh failed", "key", key, "error", err)
		}
	}

	resp := entry.Data
	return &resp, true
}

// Set memoizes a response. It refuses failed responses, responses
// carrying an error, and entries over the size ceiling.
func (c *ResultCache) Set(ctx context.Context, req domain.Request, resp *domain.Response) error {
	if c.cfg.TTL <= 0 || resp == nil {
		return nil
	}
	if !resp.Success || resp.Error != "" {
		return nil
	}

	entry := cacheEntry{
		Data:               *resp,
		CachedAt:           c.now(),
		TTLSeconds:         int64(c.cfg.TTL.Seconds()),
		WorkerID:           resp.WorkerID,
		RequestFingerprint: Fingerprint(req),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return domain.WrapOp("ResultCache.Set", err)
	}
	entry.SizeBytes = len(raw)
	if raw, err = json.Marshal(entry); err != nil {
		return domain.WrapOp("ResultCache.Set", err)
	}
	// The ceiling applies to the bytes actually stored, not the first
	// serialization pass.
	if len(raw) > c.cfg.MaxEntryBytes {
		c.logger.Debug("response too large to memoize", "size", len(raw), "max", c.cfg.MaxEntryBytes)
		return nil
	}

	if err := c.store.Set(ctx, c.key(req), raw, c.cfg.TTL); err != nil {
		c.logger.Warn("cache write failed", "error", err)
	}
	return nil
}

// Invalidate bulk-deletes entries whose keys match the given glob
// patterns. Patterns are scoped under the memoizer's prefix; pass
// "someintent:*" to bust a capability's namespace, or "*" for everything.
func (c *ResultCache) Invalidate(ctx context.Context, patterns []string) (int, error) {
	deleted := 0
	for _, pattern := range patterns {
		keys, err := c.store.Keys(ctx, fmt.Sprintf("%s:%s", c.cfg.KeyPrefix, pattern))
		if err != nil {
			return deleted, domain.WrapOp("ResultCache.Invalidate", err)
		}
		for _, key := range keys {
			if err := c.store.Delete(ctx, key); err != nil {
				c.logger.Warn("cache invalidate delete failed", "key", key, "error", err)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}
