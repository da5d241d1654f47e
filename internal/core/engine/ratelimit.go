package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/core"
)

// RateLimiter enforces per-client, per-class fixed window limits.
type RateLimiter struct {
	Store  WindowStore
	Limits map[core.OperationClass]RateLimit
	Clock  func() time.Time
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	Limit      int
}

// WindowKey identifies one client's window for one operation class.
type WindowKey struct {
	Client string
	Class  core.OperationClass
}

// WindowStore holds rate windows.
//
// Modify must run fn with exclusive access to the window for key so that the
// check and the increment happen as one step. The window passed to fn is the
// zero value when the key has no state yet.
type WindowStore interface {
	Modify(ctx context.Context, key WindowKey, fn func(window *core.RateWindow)) error
	Prune(drop func(key WindowKey, window core.RateWindow) bool) int
}

// DefaultLimits mirrors the public relay: 10 writes and 30 reads per minute.
var DefaultLimits = map[core.OperationClass]RateLimit{
	core.ClassWrite: {RequestsPerWindow: 10, WindowDuration: time.Minute},
	core.ClassRead:  {RequestsPerWindow: 30, WindowDuration: time.Minute},
}

// NewRateLimiter builds an in-memory limiter from configuration.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		Store: NewMemoryWindowStore(),
		Limits: map[core.OperationClass]RateLimit{
			core.ClassWrite: {RequestsPerWindow: cfg.WritesPerWindow, WindowDuration: window},
			core.ClassRead:  {RequestsPerWindow: cfg.ReadsPerWindow, WindowDuration: window},
		},
	}
}

// Admit checks and counts one request for clientID in class.
//
// A class whose limit is zero or negative is unlimited. A request that is
// refused does not consume a slot.
func (r *RateLimiter) Admit(ctx context.Context, clientID string, class core.OperationClass) (Decision, error) {
	if r == nil || r.Store == nil {
		return Decision{Allowed: true}, nil
	}

	limit := r.getLimit(class)
	if limit.RequestsPerWindow <= 0 || limit.WindowDuration <= 0 {
		return Decision{Allowed: true}, nil
	}

	key := WindowKey{Client: normalizeClient(clientID), Class: class}
	now := r.now()

	var decision Decision
	err := r.Store.Modify(ctx, key, func(window *core.RateWindow) {
		windowEnd := window.WindowStart.Add(limit.WindowDuration)
		if window.WindowStart.IsZero() || !now.Before(windowEnd) {
			window.Count = 0
			window.WindowStart = now
			windowEnd = now.Add(limit.WindowDuration)
		}

		decision.Limit = limit.RequestsPerWindow
		if window.Count >= limit.RequestsPerWindow {
			decision.RetryAfter = windowEnd.Sub(now)
			return
		}

		window.Count++
		decision.Allowed = true
		decision.Remaining = limit.RequestsPerWindow - window.Count
	})
	if err != nil {
		return Decision{}, err
	}

	return decision, nil
}

// Prune drops windows that have fully elapsed at now and returns how many
// were removed.
func (r *RateLimiter) Prune(now time.Time) int {
	if r == nil || r.Store == nil {
		return 0
	}

	return r.Store.Prune(func(key WindowKey, window core.RateWindow) bool {
		limit := r.getLimit(key.Class)
		if limit.WindowDuration <= 0 {
			return true
		}
		return !now.Before(window.WindowStart.Add(limit.WindowDuration))
	})
}

func (r *RateLimiter) getLimit(class core.OperationClass) RateLimit {
	limits := r.Limits
	if limits == nil {
		limits = DefaultLimits
	}

	if limit, ok := limits[class]; ok {
		return limit
	}

	return DefaultLimits[core.ClassWrite]
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func normalizeClient(clientID string) string {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "unknown"
	}
	return clientID
}

// MemoryWindowStore keeps rate windows in process memory.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[WindowKey]*core.RateWindow
}

// NewMemoryWindowStore returns an empty store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[WindowKey]*core.RateWindow)}
}

// Modify implements WindowStore.
func (m *MemoryWindowStore) Modify(ctx context.Context, key WindowKey, fn func(window *core.RateWindow)) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.windows == nil {
		m.windows = make(map[WindowKey]*core.RateWindow)
	}

	window, ok := m.windows[key]
	if !ok {
		window = &core.RateWindow{}
		m.windows[key] = window
	}
	fn(window)
	return nil
}

// Prune implements WindowStore.
func (m *MemoryWindowStore) Prune(drop func(key WindowKey, window core.RateWindow) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, window := range m.windows {
		if drop(key, *window) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports how many windows are tracked.
func (m *MemoryWindowStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
