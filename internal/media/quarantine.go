// Package media implements the long-lived media-hydration worker: manifest
// refresh, per-asset failure accounting, per-listing quarantine, and
// object-store upload. The mutex-guarded in-memory state maps are grounded
// on the teacher-adjacent worker-orchestrator's active-session map pattern.
package media

import (
	"sync"
	"time"
)

// assetState is the per-asset-key failure-accounting record.
type assetState struct {
	attempts    int
	lastAttempt time.Time
	permanent   bool
}

// AssetFailureTracker is a mutex-guarded map of per-asset failure state,
// written by the media worker. Mutex protection exists because the
// orchestrator's per-cycle Worker.Sweep prunes it from another goroutine.
type AssetFailureTracker struct {
	mu    sync.Mutex
	state map[string]*assetState
}

func NewAssetFailureTracker() *AssetFailureTracker {
	return &AssetFailureTracker{state: make(map[string]*assetState)}
}

// ShouldSkip reports whether mediaKey is currently permanently failed or
// cooling down after three attempts in the last five minutes.
func (t *AssetFailureTracker) ShouldSkip(mediaKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state[mediaKey]
	if !ok {
		return false
	}
	if s.permanent {
		return true
	}
	if s.attempts >= 3 && time.Since(s.lastAttempt) < 5*time.Minute {
		return true
	}
	if s.attempts >= 3 && time.Since(s.lastAttempt) >= 5*time.Minute {
		s.attempts = 0
	}
	return false
}

// RecordAttempt increments the attempt counter ahead of a download try.
func (t *AssetFailureTracker) RecordAttempt(mediaKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state[mediaKey]
	if !ok {
		s = &assetState{}
		t.state[mediaKey] = s
	}
	s.attempts++
	s.lastAttempt = time.Now()
}

// MarkPermanent flags an asset as never-to-be-retried, for 403/404 outcomes.
func (t *AssetFailureTracker) MarkPermanent(mediaKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state[mediaKey]
	if !ok {
		s = &assetState{}
		t.state[mediaKey] = s
	}
	s.permanent = true
}

// Prune drops non-permanent entries that haven't been attempted in a day;
// permanent failures are kept forever since they gate retries for the life
// of the asset key.
func (t *AssetFailureTracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, s := range t.state {
		if !s.permanent && now.Sub(s.lastAttempt) > 24*time.Hour {
			delete(t.state, key)
			removed++
		}
	}
	return removed
}

// quarantineEntry is the per-listing chronic-offender state.
type quarantineEntry struct {
	consecutiveFails int
	cooldownUntil    time.Time
}

// Quarantine is a mutex-guarded map of per-listing backoff state, keyed by
// listing key, escalating with repeated upstream rate rejections on
// manifest fetches.
type Quarantine struct {
	mu      sync.Mutex
	entries map[string]*quarantineEntry
}

func NewQuarantine() *Quarantine {
	return &Quarantine{entries: make(map[string]*quarantineEntry)}
}

// IsQuarantined reports whether listingKey is currently in cooldown.
func (q *Quarantine) IsQuarantined(listingKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[listingKey]
	if !ok {
		return false
	}
	return time.Now().Before(e.cooldownUntil)
}

// RecordHit registers a manifest-fetch 429 for listingKey and escalates its
// cooldown: 2h at 2 hits, 4h at 3, 8h at 4, 7d at 5+.
func (q *Quarantine) RecordHit(listingKey string) (consecutiveFails int, cooldown time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[listingKey]
	if !ok {
		e = &quarantineEntry{}
		q.entries[listingKey] = e
	}
	e.consecutiveFails++
	cooldown = cooldownFor(e.consecutiveFails)
	if cooldown > 0 {
		e.cooldownUntil = time.Now().Add(cooldown)
	}
	return e.consecutiveFails, cooldown
}

// Clear resets a listing's consecutive-fail counter after it is handled
// successfully again.
func (q *Quarantine) Clear(listingKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, listingKey)
}

// Prune drops entries whose cooldown expired more than a day ago, so the
// map doesn't grow unbounded over a long-lived process. It does not touch
// still-cooling-down entries.
func (q *Quarantine) Prune(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for key, e := range q.entries {
		if now.Sub(e.cooldownUntil) > 24*time.Hour {
			delete(q.entries, key)
			removed++
		}
	}
	return removed
}

// Count reports how many listings are currently in an active cooldown.
func (q *Quarantine) Count(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if now.Before(e.cooldownUntil) {
			n++
		}
	}
	return n
}

func cooldownFor(consecutiveFails int) time.Duration {
	switch {
	case consecutiveFails >= 5:
		return 7 * 24 * time.Hour
	case consecutiveFails == 4:
		return 8 * time.Hour
	case consecutiveFails == 3:
		return 4 * time.Hour
	case consecutiveFails == 2:
		return 2 * time.Hour
	default:
		return 0
	}
}
