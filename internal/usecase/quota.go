package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conductor/internal/domain"
)

// LimitType names the quota dimension that binds a decision.
type LimitType string

const (
	LimitRequests      LimitType = "requests"
	LimitResourceUnits LimitType = "resource_units"
	LimitCost          LimitType = "cost"
)

// QuotaLimits are per-window ceilings. A dimension set to zero or below
// is unlimited.
type QuotaLimits struct {
	MaxRequests      int64   `yaml:"max_requests"`
	MaxResourceUnits int64   `yaml:"max_resource_units"`
	MaxCost          float64 `yaml:"max_cost"`
}

// QuotaConfig configures the enforcer.
type QuotaConfig struct {
	// Window is the fixed accounting bucket length. Entries from a stale
	// window are discarded, not carried forward.
	Window time.Duration `yaml:"window"`
	Limits QuotaLimits   `yaml:"limits"`
	// RecordFailed commits usage for failed requests too.
	RecordFailed bool `yaml:"record_failed"`
	// KeyPrefix namespaces enforcer state in the shared KV store.
	KeyPrefix string `yaml:"key_prefix"`
}

const defaultQuotaWindow = time.Minute

// windowEntry is the persisted per-(caller, window) usage record.
type windowEntry struct {
	RequestCount   int64     `json:"request_count"`
	ResourceUnits  int64     `json:"resource_units"`
	Cost           float64   `json:"cost"`
	WindowStart    int64     `json:"window_start"` // unix ms, floor(now/window)*window
	FirstRequestAt time.Time `json:"first_request_at"`
}

// QuotaUsage is the caller-visible view of current window usage.
type QuotaUsage struct {
	RequestCount  int64   `json:"request_count"`
	ResourceUnits int64   `json:"resource_units"`
	Cost          float64 `json:"cost"`
}

// QuotaDecision is the result of a Check call.
type QuotaDecision struct {
	Allowed   bool       `json:"allowed"`
	Remaining int64      `json:"remaining"`
	ResetAt   time.Time  `json:"reset_at"`
	LimitType LimitType  `json:"limit_type"`
	Usage     QuotaUsage `json:"usage"`
}

// QuotaEnforcer is a fixed-window, three-dimensional rate limiter keyed
// per caller. All mutable state lives in the external KV store; Check and
// Record are separate calls, so two concurrent requests from one caller
// can both pass Check before either Records — a bounded overshoot, not an
// unbounded leak.
type QuotaEnforcer struct {
	store  domain.KVStore
	cfg    QuotaConfig
	logger *slog.Logger
	now    func() time.Time // injectable clock for tests
}

// NewQuotaEnforcer creates an enforcer over the given store.
func NewQuotaEnforcer(store domain.KVStore, cfg QuotaConfig, logger *slog.Logger) *QuotaEnforcer {
	if cfg.Window <= 0 {
		cfg.Window = defaultQuotaWindow
	} else if cfg.Window < time.Millisecond {
		// Bucket arithmetic is in whole milliseconds.
		cfg.Window = time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "quota"
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &QuotaEnforcer{store: store, cfg: cfg, logger: logger, now: time.Now}
}

func (q *QuotaEnforcer) key(caller string) string {
	return fmt.Sprintf("%s:%s", q.cfg.KeyPrefix, caller)
}

// windowStart buckets t into the current fixed window.
func (q *QuotaEnforcer) windowStart(t time.Time) int64 {
	windowMs := q.cfg.Window.Milliseconds()
	return t.UnixMilli() / windowMs * windowMs
}

// load reads the caller's current window entry, discarding entries from a
// stale window (hard reset, not sliding).
func (q *QuotaEnforcer) load(ctx context.Context, caller string, start int64) (windowEntry, error) {
	fresh := windowEntry{WindowStart: start}

	raw, err := q.store.Get(ctx, q.key(caller))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fresh, nil
		}
		return fresh, err
	}

	var entry windowEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return fresh, err
	}
	if entry.WindowStart != start {
		return fresh, nil
	}
	return entry, nil
}

// Check evaluates the hypothetical post-request usage (current plus one
// request plus the estimates) against all three limits. The binding limit
// is whichever yields the smallest remaining, ties broken toward request
// count. A backend failure fails open: infrastructure trouble must not
// starve legitimate traffic.
func (q *QuotaEnforcer) Check(ctx context.Context, caller string, estimatedUnits int64, estimatedCost float64) QuotaDecision {
	now := q.now()
	start := q.windowStart(now)
	resetAt := time.UnixMilli(start).Add(q.cfg.Window)

	entry, err := q.load(ctx, caller, start)
	if err != nil {
		q.logger.Warn("quota backend unavailable, failing open", "caller", caller, "error", err)
		return QuotaDecision{Allowed: true, ResetAt: resetAt, LimitType: LimitRequests}
	}

	hypReqs := entry.RequestCount + 1
	hypUnits := entry.ResourceUnits + estimatedUnits
	hypCost := entry.Cost + estimatedCost

	decision := QuotaDecision{
		Allowed:   true,
		Remaining: int64(1<<62 - 1),
		ResetAt:   resetAt,
		LimitType: LimitRequests,
		Usage: QuotaUsage{
			RequestCount:  entry.RequestCount,
			ResourceUnits: entry.ResourceUnits,
			Cost:          entry.Cost,
		},
	}

	type dimension struct {
		kind      LimitType
		remaining int64
		exceeded  bool
		limited   bool
	}
	dims := []dimension{
		{LimitRequests, q.cfg.Limits.MaxRequests - hypReqs, hypReqs > q.cfg.Limits.MaxRequests, q.cfg.Limits.MaxRequests > 0},
		{LimitResourceUnits, q.cfg.Limits.MaxResourceUnits - hypUnits, hypUnits > q.cfg.Limits.MaxResourceUnits, q.cfg.Limits.MaxResourceUnits > 0},
		{LimitCost, int64(q.cfg.Limits.MaxCost - hypCost), hypCost > q.cfg.Limits.MaxCost, q.cfg.Limits.MaxCost > 0},
	}

	for _, d := range dims {
		if !d.limited {
			continue
		}
		// Strictly smaller wins; order breaks ties toward request count.
		if d.remaining < decision.Remaining {
			decision.Remaining = d.remaining
			decision.LimitType = d.kind
			decision.Allowed = !d.exceeded
		}
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision
}

// Record commits actual usage after completion. Failed requests are
// skipped unless the policy records them. The read-then-write is not
// atomic across concurrent calls for one caller within a window.
func (q *QuotaEnforcer) Record(ctx context.Context, caller string, actualUnits int64, actualCost float64, success bool) error {
	if !success && !q.cfg.RecordFailed {
		return nil
	}

	now := q.now()
	start := q.windowStart(now)

	entry, err := q.load(ctx, caller, start)
	if err != nil {
		q.logger.Warn("quota record skipped, backend unavailable", "caller", caller, "error", err)
		return nil
	}

	if entry.RequestCount == 0 {
		entry.FirstRequestAt = now
	}
	entry.RequestCount++
	entry.ResourceUnits += actualUnits
	entry.Cost += actualCost
	entry.WindowStart = start

	raw, err := json.Marshal(entry)
	if err != nil {
		return domain.WrapOp("QuotaEnforcer.Record", err)
	}
	// Keep the entry around slightly past the window so late reads in the
	// same window still see it.
	if err := q.store.Set(ctx, q.key(caller), raw, 2*q.cfg.Window); err != nil {
		q.logger.Warn("quota record write failed", "caller", caller, "error", err)
	}
	return nil
}

// CurrentUsage returns the caller's committed usage in the active window.
func (q *QuotaEnforcer) CurrentUsage(ctx context.Context, caller string) (QuotaUsage, error) {
	entry, err := q.load(ctx, caller, q.windowStart(q.now()))
	if err != nil {
		return QuotaUsage{}, domain.WrapOp("QuotaEnforcer.CurrentUsage", err)
	}
	return QuotaUsage{
		RequestCount:  entry.RequestCount,
		ResourceUnits: entry.ResourceUnits,
		Cost:          entry.Cost,
	}, nil
}
