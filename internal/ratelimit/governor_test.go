package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettingStore struct {
	value string
	ok    bool
	err   error
	calls int
}

func (f *fakeSettingStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	f.calls++
	return f.value, f.ok, f.err
}

func TestGovernorAwaitPacesRequests(t *testing.T) {
	g := New("test", 20*time.Millisecond, 1000)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, g.Await(ctx))
	require.NoError(t, g.Await(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestGovernorEnforcesHourlyCeiling(t *testing.T) {
	g := New("test", time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, g.Await(ctx))
	require.NoError(t, g.Await(ctx))
	snap := g.Snapshot()
	assert.Equal(t, 2, snap.HourlyCount)
	assert.Equal(t, 2, snap.HourlyCeiling)

	// A third call inside the same window must block until the window
	// resets, so a short deadline expires first.
	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Await(blockedCtx), context.DeadlineExceeded)
}

func TestGovernorCooldownBlocksUntilExpiry(t *testing.T) {
	g := New("test", time.Millisecond, 1000)
	g.Cooldown(30 * time.Millisecond)

	snap := g.Snapshot()
	assert.True(t, snap.CooldownActive)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernorLiveTuningRetunesInterval(t *testing.T) {
	settings := &fakeSettingStore{value: "2000", ok: true}
	g := New("media", 500*time.Millisecond, 1000,
		WithLiveTuning(settings, "media_download_interval_ms", 0, 500*time.Millisecond, 5*time.Second))

	require.NoError(t, g.Await(context.Background()))
	assert.Equal(t, 2*time.Second, g.Snapshot().Interval)
	assert.Equal(t, 1, settings.calls)
}

func TestGovernorLiveTuningClampsToBounds(t *testing.T) {
	settings := &fakeSettingStore{value: "100000", ok: true}
	g := New("media", 500*time.Millisecond, 1000,
		WithLiveTuning(settings, "media_download_interval_ms", 0, 500*time.Millisecond, 5*time.Second))

	require.NoError(t, g.Await(context.Background()))
	assert.Equal(t, 5*time.Second, g.Snapshot().Interval)
}
