package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"conductor/internal/domain"
)

func newTestCache(ttl time.Duration) (*ResultCache, *fakeStore, func(time.Duration)) {
	store := newFakeStore()
	c := NewResultCache(store, CacheConfig{TTL: ttl}, nil)
	now, advance := fixedClock(time.Unix(1_700_000_000, 0))
	c.now = now
	return c, store, advance
}

func cacheableRequest(intent, text string) domain.Request {
	return domain.Request{
		ID:          NewID(),
		CallerID:    "caller-1",
		SubmittedAt: time.Now(),
		Payload:     map[string]any{"intent": intent, "text": text},
	}
}

func successResponse(req domain.Request) *domain.Response {
	return &domain.Response{
		ID:        NewID(),
		RequestID: req.ID,
		Success:   true,
		WorkerID:  "w1",
		Payload:   map[string]any{"result": "cached"},
	}
}

func TestFingerprintIgnoresVolatileKeys(t *testing.T) {
	a := domain.Request{Payload: map[string]any{
		"intent": "summarize", "text": "hello",
		"id": "req-1", "caller_id": "team-a", "session_id": "s1",
		"submitted_at": "2026-01-01T00:00:00Z", "timestamp": 12345,
	}}
	b := domain.Request{Payload: map[string]any{
		"intent": "summarize", "text": "hello",
		"id": "req-2", "caller_id": "team-b", "session_id": "s2",
		"submitted_at": "2026-02-02T00:00:00Z", "timestamp": 99999,
	}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("volatile keys must not affect the fingerprint")
	}

	c := domain.Request{Payload: map[string]any{"intent": "summarize", "text": "goodbye"}}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("different business content must not collide")
	}
}

func TestCacheSetGet(t *testing.T) {
	c, _, _ := newTestCache(5 * time.Minute)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	if _, ok := c.Get(ctx, req); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	if err := c.Set(ctx, req, successResponse(req)); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get(ctx, req)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Payload["result"] != "cached" {
		t.Errorf("payload = %v", got.Payload)
	}

	// Same content from a different caller hits the same entry.
	other := cacheableRequest("summarize", "hello")
	other.CallerID = "caller-2"
	if _, ok := c.Get(ctx, other); !ok {
		t.Error("content-identical request from another caller should hit")
	}
}

func TestCacheExpiry(t *testing.T) {
	c, store, advance := newTestCache(5 * time.Minute)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	if err := c.Set(ctx, req, successResponse(req)); err != nil {
		t.Fatal(err)
	}

	advance(6 * time.Minute)
	if _, ok := c.Get(ctx, req); ok {
		t.Fatal("expired entry must miss")
	}
	if store.len() != 0 {
		t.Error("expired entry must be deleted on read")
	}
}

func TestCacheReadExtendsLifetime(t *testing.T) {
	c, _, advance := newTestCache(10 * time.Minute)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	if err := c.Set(ctx, req, successResponse(req)); err != nil {
		t.Fatal(err)
	}

	// Each read inside the window refreshes CachedAt, so repeated reads
	// keep the entry alive past the original deadline.
	advance(9 * time.Minute)
	if _, ok := c.Get(ctx, req); !ok {
		t.Fatal("entry should still be live")
	}
	advance(9 * time.Minute) // 18m after Set, 9m after last read
	if _, ok := c.Get(ctx, req); !ok {
		t.Fatal("read should have extended the lifetime")
	}
}

func TestCacheRefusesFailures(t *testing.T) {
	c, store, _ := newTestCache(5 * time.Minute)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	failed := successResponse(req)
	failed.Success = false
	failed.Error = "worker broke"
	if err := c.Set(ctx, req, failed); err != nil {
		t.Fatal(err)
	}
	if store.len() != 0 {
		t.Error("failed responses must not be memoized")
	}

	errored := successResponse(req)
	errored.Error = "partial failure"
	if err := c.Set(ctx, req, errored); err != nil {
		t.Fatal(err)
	}
	if store.len() != 0 {
		t.Error("responses carrying an error must not be memoized")
	}
}

func TestCacheRefusesOversizeEntries(t *testing.T) {
	store := newFakeStore()
	c := NewResultCache(store, CacheConfig{TTL: 5 * time.Minute, MaxEntryBytes: 128}, nil)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	big := successResponse(req)
	big.Payload = map[string]any{"blob": strings.Repeat("x", 1024)}
	if err := c.Set(ctx, req, big); err != nil {
		t.Fatal(err)
	}
	if store.len() != 0 {
		t.Error("oversize entries must be refused")
	}
}

func TestCacheSizeCeilingAppliesToStoredBytes(t *testing.T) {
	ctx := context.Background()
	now, _ := fixedClock(time.Unix(1_700_000_000, 0))
	req := cacheableRequest("summarize", "hello")
	resp := successResponse(req)

	// Learn the exact stored envelope size with a generous ceiling.
	probeStore := newFakeStore()
	c := NewResultCache(probeStore, CacheConfig{TTL: 5 * time.Minute, MaxEntryBytes: 1 << 20}, nil)
	c.now = now
	if err := c.Set(ctx, req, resp); err != nil {
		t.Fatal(err)
	}
	keys, err := probeStore.Keys(ctx, "*")
	if err != nil || len(keys) != 1 {
		t.Fatalf("keys = %v, err = %v", keys, err)
	}
	raw, err := probeStore.Get(ctx, keys[0])
	if err != nil {
		t.Fatal(err)
	}
	stored := len(raw)

	// One byte under the real stored size must refuse the entry: the
	// ceiling binds the bytes written, not an intermediate serialization
	// with the size field still zero.
	store := newFakeStore()
	c = NewResultCache(store, CacheConfig{TTL: 5 * time.Minute, MaxEntryBytes: stored - 1}, nil)
	c.now = now
	if err := c.Set(ctx, req, resp); err != nil {
		t.Fatal(err)
	}
	if store.len() != 0 {
		t.Fatal("entry stored past the size ceiling")
	}
	if _, ok := c.Get(ctx, req); ok {
		t.Error("oversize entry must miss")
	}

	// The exact size fits.
	store = newFakeStore()
	c = NewResultCache(store, CacheConfig{TTL: 5 * time.Minute, MaxEntryBytes: stored}, nil)
	c.now = now
	if err := c.Set(ctx, req, resp); err != nil {
		t.Fatal(err)
	}
	if store.len() != 1 {
		t.Error("entry at the ceiling should be stored")
	}
}

func TestCacheDisabledByZeroTTL(t *testing.T) {
	c, store, _ := newTestCache(0)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	if err := c.Set(ctx, req, successResponse(req)); err != nil {
		t.Fatal(err)
	}
	if store.len() != 0 {
		t.Error("zero TTL disables writes")
	}
	if _, ok := c.Get(ctx, req); ok {
		t.Error("zero TTL disables reads")
	}
}

func TestCacheHitCountIncrements(t *testing.T) {
	c, _, _ := newTestCache(5 * time.Minute)
	ctx := context.Background()
	req := cacheableRequest("summarize", "hello")

	if err := c.Set(ctx, req, successResponse(req)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := c.Get(ctx, req); !ok {
			t.Fatal("expected hit")
		}
	}

	raw, err := c.store.Get(ctx, c.key(req))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"hit_count":3`) {
		t.Errorf("entry = %s", raw)
	}
}

func TestCacheInvalidatePatterns(t *testing.T) {
	c, _, _ := newTestCache(5 * time.Minute)
	ctx := context.Background()

	reqs := []domain.Request{
		cacheableRequest("summarize", "a"),
		cacheableRequest("summarize", "b"),
		cacheableRequest("translate", "a"),
	}
	for _, req := range reqs {
		if err := c.Set(ctx, req, successResponse(req)); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := c.Invalidate(ctx, []string{"summarize:*"})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if _, ok := c.Get(ctx, reqs[2]); !ok {
		t.Error("translate entry must survive a summarize-scoped invalidation")
	}

	deleted, err = c.Invalidate(ctx, []string{"*"})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

func TestCacheBackendFailureDegradesToMiss(t *testing.T) {
	c, store, _ := newTestCache(5 * time.Minute)
	store.getErr = context.DeadlineExceeded

	if _, ok := c.Get(context.Background(), cacheableRequest("summarize", "hello")); ok {
		t.Error("backend failure must degrade to a miss")
	}
}
