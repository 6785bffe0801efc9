package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennietech/mls-sync-core/internal/upstream"
)

// noopGovernor satisfies upstream.Governor with no pacing, so driver tests
// run at full speed against the fake server below.
type noopGovernor struct{}

func (noopGovernor) Await(ctx context.Context) error { return nil }

// fakeSyncStateStore is an in-memory stand-in for internal/db's
// high-water-mark persistence, with a counter so tests can assert it is
// written once per processed batch rather than only at cycle end.
type fakeSyncStateStore struct {
	mu    sync.Mutex
	hwm   map[string]time.Time
	sets  int
}

func newFakeSyncStateStore() *fakeSyncStateStore {
	return &fakeSyncStateStore{hwm: make(map[string]time.Time)}
}

func (f *fakeSyncStateStore) GetSyncState(ctx context.Context, resource, originatingSystem string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hwm[resource+"/"+originatingSystem], nil
}

func (f *fakeSyncStateStore) SetSyncState(ctx context.Context, resource, originatingSystem string, hwm time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hwm[resource+"/"+originatingSystem] = hwm
	f.sets++
	return nil
}

// newPagedUpstream starts a fake in-memory OData server that serves the
// given pages in order off of a single resource path, following
// @odata.nextLink exactly the way the real feed does. Each call to the
// handler advances to the next page; requests past the last page repeat it
// (so following a stale nextLink in a test is harmless rather than a panic).
func newPagedUpstream(t *testing.T, pages [][]map[string]any) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	next := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := next
		if idx >= len(pages) {
			idx = len(pages) - 1
		}
		next++
		mu.Unlock()

		resp := struct {
			Value    []map[string]any `json:"value"`
			NextLink string           `json:"@odata.nextLink,omitempty"`
		}{Value: pages[idx]}
		if idx < len(pages)-1 {
			resp.NextLink = srv.URL + fmt.Sprintf("/Property?$top=1&$skip=%d", idx+1)
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	return srv
}

func record(key string, modified time.Time) map[string]any {
	return map[string]any{
		"ListingKey":            key,
		"ModificationTimestamp": modified.UTC().Format(time.RFC3339),
	}
}

// TestDriverRunPersistsHighWaterMarkPerBatch verifies the batch-by-batch HWM
// persistence the resumability contract depends on: the store is written
// after every page, not only once at the end of the cycle.
func TestDriverRunPersistsHighWaterMarkPerBatch(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)
	srv := newPagedUpstream(t, [][]map[string]any{
		{record("a", t1)},
		{record("b", t2)},
		{record("c", t3)},
	})
	defer srv.Close()

	client := upstream.NewClient(srv.URL, "token", noopGovernor{}, zerolog.Nop())
	states := newFakeSyncStateStore()

	var seen []string
	d := &Driver{
		Resource:          "Property",
		OriginatingSystem: "TEST",
		ODataResource:     "Property",
		BatchSize:         1,
		Fetcher:           client,
		SyncStates:        states,
		Log:               zerolog.Nop(),
		Process: func(ctx context.Context, records []map[string]any) (time.Time, error) {
			var max time.Time
			for _, rec := range records {
				seen = append(seen, str(rec, "ListingKey"))
				if m := timeField(rec, "ModificationTimestamp"); m.After(max) {
					max = m
				}
			}
			return max, nil
		},
	}

	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, 3, states.sets, "high-water-mark must be persisted once per processed batch")
	got, err := states.GetSyncState(context.Background(), "Property", "TEST")
	require.NoError(t, err)
	assert.True(t, got.Equal(t3))
}

// TestDriverRunResumesFromPersistedHighWaterMark verifies a second Run call
// against a fresh Driver instance picks up the filter from wherever the
// first call left the high-water-mark (crash-resumability), rather than
// requiring in-process state.
func TestDriverRunResumesFromPersistedHighWaterMark(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	states := newFakeSyncStateStore()
	require.NoError(t, states.SetSyncState(context.Background(), "Property", "TEST", t1))
	states.sets = 0 // clear the write made by seeding the high-water-mark above

	var capturedFilter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedFilter = r.URL.Query().Get("$filter")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{}})
	}))
	defer srv.Close()

	client := upstream.NewClient(srv.URL, "token", noopGovernor{}, zerolog.Nop())
	d := &Driver{
		Resource:          "Property",
		OriginatingSystem: "TEST",
		ODataResource:     "Property",
		BatchSize:         100,
		Fetcher:           client,
		SyncStates:        states,
		Log:               zerolog.Nop(),
		Process: func(ctx context.Context, records []map[string]any) (time.Time, error) {
			return time.Time{}, nil
		},
	}

	require.NoError(t, d.Run(context.Background()))
	assert.Contains(t, capturedFilter, "ModificationTimestamp gt "+t1.Format(time.RFC3339))
}

// TestDriverRunIdempotentOnEmptyPage verifies that a cycle which sees no
// records newer than the current high-water-mark leaves it untouched and
// writes nothing, so re-running a cycle against an unchanged upstream is a
// no-op.
func TestDriverRunIdempotentOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{}})
	}))
	defer srv.Close()

	client := upstream.NewClient(srv.URL, "token", noopGovernor{}, zerolog.Nop())
	states := newFakeSyncStateStore()
	d := &Driver{
		Resource:          "Property",
		OriginatingSystem: "TEST",
		ODataResource:     "Property",
		BatchSize:         100,
		Fetcher:           client,
		SyncStates:        states,
		Log:               zerolog.Nop(),
		Process: func(ctx context.Context, records []map[string]any) (time.Time, error) {
			return time.Time{}, nil
		},
	}

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 0, states.sets)
}
