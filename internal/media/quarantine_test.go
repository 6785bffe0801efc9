package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssetFailureTrackerSkipsAfterThreeAttempts(t *testing.T) {
	tr := NewAssetFailureTracker()
	key := "media-1"
	assert.False(t, tr.ShouldSkip(key))

	tr.RecordAttempt(key)
	tr.RecordAttempt(key)
	assert.False(t, tr.ShouldSkip(key), "two attempts should not trigger a cooldown")

	tr.RecordAttempt(key)
	assert.True(t, tr.ShouldSkip(key), "a third attempt within the window should cool down")
}

func TestAssetFailureTrackerMarkPermanent(t *testing.T) {
	tr := NewAssetFailureTracker()
	key := "media-2"
	tr.MarkPermanent(key)
	assert.True(t, tr.ShouldSkip(key))
}

func TestQuarantineEscalation(t *testing.T) {
	q := NewQuarantine()
	key := "listing-1"

	fails, cooldown := q.RecordHit(key)
	assert.Equal(t, 1, fails)
	assert.Equal(t, time.Duration(0), cooldown)
	assert.False(t, q.IsQuarantined(key))

	fails, cooldown = q.RecordHit(key)
	assert.Equal(t, 2, fails)
	assert.Equal(t, 2*time.Hour, cooldown)
	assert.True(t, q.IsQuarantined(key))

	fails, cooldown = q.RecordHit(key)
	assert.Equal(t, 3, fails)
	assert.Equal(t, 4*time.Hour, cooldown)

	fails, cooldown = q.RecordHit(key)
	assert.Equal(t, 4, fails)
	assert.Equal(t, 8*time.Hour, cooldown)

	fails, cooldown = q.RecordHit(key)
	assert.Equal(t, 5, fails)
	assert.Equal(t, 7*24*time.Hour, cooldown)
}

func TestQuarantineClear(t *testing.T) {
	q := NewQuarantine()
	key := "listing-2"
	q.RecordHit(key)
	q.RecordHit(key)
	assert.True(t, q.IsQuarantined(key))

	q.Clear(key)
	assert.False(t, q.IsQuarantined(key))
}

func TestQuarantinePruneKeepsActiveCooldowns(t *testing.T) {
	q := NewQuarantine()
	q.RecordHit("still-cooling")
	q.RecordHit("still-cooling")

	removed := q.Prune(time.Now())
	assert.Equal(t, 0, removed)
	assert.True(t, q.IsQuarantined("still-cooling"))
}

func TestQuarantinePruneDropsLongExpired(t *testing.T) {
	q := NewQuarantine()
	q.RecordHit("stale")
	q.RecordHit("stale")

	removed := q.Prune(time.Now().Add(3 * 24 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, q.Count(time.Now().Add(3*24*time.Hour)))
}

func TestAssetFailureTrackerPruneKeepsPermanent(t *testing.T) {
	tr := NewAssetFailureTracker()
	tr.MarkPermanent("permanent-1")
	tr.RecordAttempt("stale-1")

	removed := tr.Prune(time.Now().Add(48 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.True(t, tr.ShouldSkip("permanent-1"), "permanent failures survive pruning")
}
