// Package ratelimit implements the two-tier rate governor described in
// SPEC_FULL.md §3.2: steady-state pacing via golang.org/x/time/rate plus a
// hand-kept hourly rolling window, with the media governor's interval
// live-tunable from a persisted setting.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SettingStore is the narrow persistence contract the media governor polls
// for its live-tunable interval. internal/db's settings table satisfies it.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Snapshot is a point-in-time view of one governor's state, mirrored into
// the metrics package by the orchestrator once per cycle.
type Snapshot struct {
	Interval       time.Duration
	HourlyCount    int
	HourlyCeiling  int
	WindowResetAt  time.Time
	CooldownActive bool
	CooldownUntil  time.Time
}

// Governor paces outbound requests to one upstream surface (the OData API,
// or the media CDN) to a minimum inter-request interval and an hourly
// rolling ceiling, and can be pushed into a cooldown after a 429.
type Governor struct {
	name string

	mu            sync.Mutex
	interval      time.Duration
	limiter       *rate.Limiter
	hourlyCeiling int
	windowStart   time.Time
	windowCount   int
	cooldownUntil time.Time

	// live-tuning, media governor only
	settings      SettingStore
	settingKey    string
	lastRetuneAt  time.Time
	retuneEvery   time.Duration
	minInterval   time.Duration
	maxInterval   time.Duration
}

// Option configures optional behavior on a Governor.
type Option func(*Governor)

// WithLiveTuning makes the governor poll settings for settingKey no more
// than once per retuneEvery, clamping the result to [min, max].
func WithLiveTuning(settings SettingStore, settingKey string, retuneEvery, min, max time.Duration) Option {
	return func(g *Governor) {
		g.settings = settings
		g.settingKey = settingKey
		g.retuneEvery = retuneEvery
		g.minInterval = min
		g.maxInterval = max
	}
}

// New builds a governor pacing requests to at most one per interval, with
// no more than hourlyCeiling requests inside each hour-long window. A
// window opens on the first request and resets an hour after it opened.
func New(name string, interval time.Duration, hourlyCeiling int, opts ...Option) *Governor {
	g := &Governor{
		name:          name,
		interval:      interval,
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		hourlyCeiling: hourlyCeiling,
		windowStart:   time.Time{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Await blocks until the caller may issue its next request: it waits out
// the steady-state limiter, enforces the hourly ceiling, and honors any
// active cooldown. It retunes its interval from settings first, if
// live-tuning is configured and due.
func (g *Governor) Await(ctx context.Context) error {
	g.maybeRetune(ctx)

	g.mu.Lock()
	if !g.cooldownUntil.IsZero() && time.Now().Before(g.cooldownUntil) {
		until := g.cooldownUntil
		g.mu.Unlock()
		select {
		case <-time.After(time.Until(until)):
		case <-ctx.Done():
			return ctx.Err()
		}
		g.mu.Lock()
	}

	now := time.Now()
	if g.windowStart.IsZero() || now.Sub(g.windowStart) >= time.Hour {
		g.windowStart = now
		g.windowCount = 0
	}
	if g.windowCount >= g.hourlyCeiling {
		wait := g.windowStart.Add(time.Hour).Sub(now)
		g.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		g.mu.Lock()
		g.windowStart = time.Now()
		g.windowCount = 0
	}
	g.windowCount++
	limiter := g.limiter
	g.mu.Unlock()

	return limiter.Wait(ctx)
}

// Cooldown pushes the governor into a hold-off period, used after a 429 the
// retry budget could not absorb.
func (g *Governor) Cooldown(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
}

// Snapshot reports the governor's current state without mutating it.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Interval:       g.interval,
		HourlyCount:    g.windowCount,
		HourlyCeiling:  g.hourlyCeiling,
		WindowResetAt:  g.windowStart.Add(time.Hour),
		CooldownActive: time.Now().Before(g.cooldownUntil),
		CooldownUntil:  g.cooldownUntil,
	}
}

// maybeRetune refreshes the governor's interval from its setting store, at
// most once per retuneEvery, using a double-checked lock so concurrent
// callers don't all hit the store at once.
func (g *Governor) maybeRetune(ctx context.Context) {
	if g.settings == nil {
		return
	}

	g.mu.Lock()
	due := time.Since(g.lastRetuneAt) >= g.retuneEvery
	g.mu.Unlock()
	if !due {
		return
	}

	g.mu.Lock()
	if time.Since(g.lastRetuneAt) < g.retuneEvery {
		g.mu.Unlock()
		return
	}
	g.lastRetuneAt = time.Now()
	g.mu.Unlock()

	raw, ok, err := g.settings.GetSetting(ctx, g.settingKey)
	if err != nil || !ok {
		return
	}
	ms, err := parseMillis(raw)
	if err != nil {
		return
	}
	interval := time.Duration(ms) * time.Millisecond
	if interval < g.minInterval {
		interval = g.minInterval
	}
	if interval > g.maxInterval {
		interval = g.maxInterval
	}

	g.mu.Lock()
	if interval != g.interval {
		g.interval = interval
		g.limiter.SetLimit(rate.Every(interval))
	}
	g.mu.Unlock()
}

func parseMillis(raw string) (int64, error) {
	var ms int64
	_, err := fmt.Sscanf(raw, "%d", &ms)
	if err != nil {
		return 0, fmt.Errorf("parsing interval setting: %w", err)
	}
	return ms, nil
}
