package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennietech/mls-sync-core/internal/model"
	"github.com/rennietech/mls-sync-core/internal/objectstore"
	"github.com/rennietech/mls-sync-core/internal/upstream"
)

// noopGovernor satisfies the Governor interface with no pacing.
type noopGovernor struct{}

func (noopGovernor) Await(ctx context.Context) error { return nil }

// fakeMediaStore is an in-memory stand-in for internal/db's media-facing
// surface, recording every call the worker makes against it.
type fakeMediaStore struct {
	existing          []model.MediaAsset
	updatedURLs       map[string]string
	downloaded        map[string]string
	deletedOrphans    bool
	deletedListing    string
	rateLimitEvents   []string
	problematicUpsert *model.ProblematicListing
	cleared           string
	missing           int
	candidates        []string
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{
		updatedURLs: make(map[string]string),
		downloaded:  make(map[string]string),
	}
}

func (f *fakeMediaStore) CountMissingMedia(ctx context.Context) (int, error) { return f.missing, nil }

func (f *fakeMediaStore) SelectListingsWithMissingMedia(ctx context.Context, limit int) ([]string, error) {
	return f.candidates, nil
}

func (f *fakeMediaStore) MediaForListing(ctx context.Context, listingKey string) ([]model.MediaAsset, error) {
	return f.existing, nil
}

func (f *fakeMediaStore) UpsertMediaMetadata(ctx context.Context, assets []model.MediaAsset) error {
	return nil
}

func (f *fakeMediaStore) UpdateMediaURL(ctx context.Context, mediaKey, upstreamURL string, modified time.Time) error {
	f.updatedURLs[mediaKey] = upstreamURL
	return nil
}

func (f *fakeMediaStore) MarkMediaDownloaded(ctx context.Context, mediaKey, localURL string) error {
	f.downloaded[mediaKey] = localURL
	return nil
}

func (f *fakeMediaStore) DeleteOrphanMedia(ctx context.Context, listingKey string, keepKeys []string) error {
	f.deletedOrphans = true
	return nil
}

func (f *fakeMediaStore) DeleteListing(ctx context.Context, listingKey string) error {
	f.deletedListing = listingKey
	return nil
}

func (f *fakeMediaStore) RecordRateLimitEvent(ctx context.Context, listingKey, source string) error {
	f.rateLimitEvents = append(f.rateLimitEvents, source)
	return nil
}

func (f *fakeMediaStore) UpsertProblematicListing(ctx context.Context, p model.ProblematicListing) error {
	f.problematicUpsert = &p
	return nil
}

func (f *fakeMediaStore) ClearProblematicListing(ctx context.Context, listingKey string) error {
	f.cleared = listingKey
	return nil
}

type fakeIndexer struct {
	deleted string
}

func (f *fakeIndexer) Delete(ctx context.Context, listingKey string) error {
	f.deleted = listingKey
	return nil
}

// fakeDownloader is a scripted stand-in for the media CDN: every call
// returns the same canned result and is counted.
type fakeDownloader struct {
	calls   int
	body    []byte
	ctype   string
	err     error
}

func (f *fakeDownloader) Download(ctx context.Context, assetURL string) ([]byte, string, error) {
	f.calls++
	return f.body, f.ctype, f.err
}

// newManifestServer starts a fake in-memory upstream API serving a single
// listing's media manifest, mirroring the real feed's
// GET /Property('key')?$expand=Media&$select=ListingKey shape.
func newManifestServer(t *testing.T, media []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{{"ListingKey": "listing-1", "Media": media}},
		})
	}))
}

func newNotFoundManifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
}

// newFakeS3Store builds a real objectstore.Store pointed at a fake
// in-memory S3-compatible endpoint that accepts any PutObject call, so
// processAsset's upload step can be exercised without a live AWS account.
func newFakeS3Store(t *testing.T) (*objectstore.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"fake-etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	store, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "test-bucket",
		AccessKey: "fake",
		SecretKey: "fake",
		CDNBase:   srv.URL,
	})
	require.NoError(t, err)
	return store, srv
}

func newTestWorker(t *testing.T, store Store, indexer Indexer, downloader Downloader, fetcher ManifestFetcher, objects *objectstore.Store) *Worker {
	t.Helper()
	return &Worker{
		Store:             store,
		Objects:           objects,
		Indexer:           indexer,
		Downloader:        downloader,
		Governor:          noopGovernor{},
		Fetcher:           fetcher,
		OriginatingSystem: "RESO",
		StoragePrefix:     "test",
		Failures:          NewAssetFailureTracker(),
		Quarantines:       NewQuarantine(),
		Log:               zerolog.Nop(),
	}
}

// TestIterateHydratesFreshAssetFromFakeUpstream drives the full manifest
// fetch -> download -> upload -> mark-downloaded path against a fake
// in-memory upstream server and a fake S3 endpoint.
func TestIterateHydratesFreshAssetFromFakeUpstream(t *testing.T) {
	manifestSrv := newManifestServer(t, []map[string]any{
		{"MediaKey": "m1", "MediaCategory": "Photo", "MediaURL": "https://cdn.example.com/m1.jpg",
			"MediaModificationTimestamp": "2026-01-01T00:00:00Z", "Order": float64(0)},
	})
	defer manifestSrv.Close()
	objects, s3Srv := newFakeS3Store(t)
	defer s3Srv.Close()

	store := newFakeMediaStore()
	store.missing = 1
	store.candidates = []string{"listing-1"}
	indexer := &fakeIndexer{}
	downloader := &fakeDownloader{body: []byte("jpeg-bytes"), ctype: "image/jpeg"}
	fetcher := upstream.NewClient(manifestSrv.URL, "token", noopGovernor{}, zerolog.Nop())

	w := newTestWorker(t, store, indexer, downloader, fetcher, objects)
	w.iterate(context.Background())

	assert.Equal(t, 1, downloader.calls)
	assert.Contains(t, store.downloaded, "m1")
	assert.Equal(t, 1, w.DownloadsSinceLast())
	assert.Equal(t, "listing-1", store.cleared)
}

// TestProcessAssetRevalidatesHydratedAssetOnUpstreamChange is the regression
// test for the monotonicity fix: an already-hydrated asset whose upstream
// URL or modification timestamp advances must be re-fetched, not skipped.
func TestProcessAssetRevalidatesHydratedAssetOnUpstreamChange(t *testing.T) {
	store := newFakeMediaStore()
	downloader := &fakeDownloader{err: fmt.Errorf("network down")}
	w := newTestWorker(t, store, &fakeIndexer{}, downloader, nil, nil)

	oldURL := "https://cdn.example.com/old.jpg"
	newURL := "https://cdn.example.com/new.jpg"
	localURL := "https://bucket.example.com/listing-1/0.jpg"
	existing := map[string]model.MediaAsset{
		"m1": {
			MediaKey:         "m1",
			UpstreamURL:      oldURL,
			UpstreamModified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			LocalURL:         &localURL,
		},
	}

	manifestEntry := map[string]any{
		"MediaKey":                   "m1",
		"MediaCategory":              "Photo",
		"MediaURL":                   newURL,
		"MediaModificationTimestamp": "2026-02-01T00:00:00Z",
		"Order":                      float64(0),
	}

	w.processAsset(context.Background(), "listing-1", manifestEntry, existing)

	assert.Equal(t, newURL, store.updatedURLs["m1"], "a re-pointed hydrated asset must still call UpdateMediaURL")
	assert.Equal(t, 1, downloader.calls, "the stale asset must be re-downloaded instead of skipped because LocalURL was already set")
}

// TestProcessAssetSkipsUnchangedHydratedAsset verifies the companion case:
// when neither the URL nor the modification timestamp advanced, a hydrated
// asset is left alone and never re-downloaded.
func TestProcessAssetSkipsUnchangedHydratedAsset(t *testing.T) {
	store := newFakeMediaStore()
	downloader := &fakeDownloader{err: fmt.Errorf("should not be called")}
	w := newTestWorker(t, store, &fakeIndexer{}, downloader, nil, nil)

	url := "https://cdn.example.com/same.jpg"
	modified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	localURL := "https://bucket.example.com/listing-1/0.jpg"
	existing := map[string]model.MediaAsset{
		"m1": {MediaKey: "m1", UpstreamURL: url, UpstreamModified: modified, LocalURL: &localURL},
	}
	manifestEntry := map[string]any{
		"MediaKey": "m1", "MediaCategory": "Photo", "MediaURL": url,
		"MediaModificationTimestamp": modified.Format(time.RFC3339), "Order": float64(0),
	}

	w.processAsset(context.Background(), "listing-1", manifestEntry, existing)

	assert.Empty(t, store.updatedURLs)
	assert.Equal(t, 0, downloader.calls)
}

// TestHandleManifestErrorNotFoundCascadesDelete drives a manifest fetch
// against a fake upstream server that returns 404, verifying the
// not-found-on-detail-fetch cascade deletes the listing from both the
// relational store and the search index.
func TestHandleManifestErrorNotFoundCascadesDelete(t *testing.T) {
	srv := newNotFoundManifestServer(t)
	defer srv.Close()

	store := newFakeMediaStore()
	indexer := &fakeIndexer{}
	client := upstream.NewClient(srv.URL, "token", noopGovernor{}, zerolog.Nop())

	_, err := client.FetchOne(context.Background(), "/Property('listing-1')?$expand=Media")
	require.Error(t, err)

	w := newTestWorker(t, store, indexer, nil, client, nil)
	w.handleManifestError(context.Background(), "listing-1", err)

	assert.Equal(t, "listing-1", store.deletedListing)
	assert.Equal(t, "listing-1", indexer.deleted)
}

// TestHandleManifestErrorRateLimitedSetsCooldownAndQuarantine exercises the
// 429-on-manifest-fetch path directly with a crafted StatusError (a live
// 429 would otherwise drive the client's real minutes-long internal backoff).
func TestHandleManifestErrorRateLimitedSetsCooldownAndQuarantine(t *testing.T) {
	store := newFakeMediaStore()
	w := newTestWorker(t, store, &fakeIndexer{}, nil, nil, nil)

	err := &upstream.StatusError{Kind: upstream.ErrRateLimited, StatusCode: http.StatusTooManyRequests}
	w.handleManifestError(context.Background(), "listing-1", err)

	api, _ := w.CooldownActive()
	assert.True(t, api)
	require.Len(t, store.rateLimitEvents, 1)
	assert.Equal(t, "api", store.rateLimitEvents[0])
	require.NotNil(t, store.problematicUpsert)
	assert.Equal(t, 1, store.problematicUpsert.ConsecutiveFails)
	// A first hit is recorded but starts no per-listing cooldown; the
	// escalation begins at the second hit (see TestQuarantineEscalation).
	assert.False(t, w.Quarantines.IsQuarantined("listing-1"))
}

// TestHandleUploadErrorRateLimitedSetsMediaCooldown mirrors the manifest
// case for the CDN download path: a 429 from the Downloader sets the media
// cooldown and is reported as an abandon-this-listing signal.
func TestHandleUploadErrorRateLimitedSetsMediaCooldown(t *testing.T) {
	store := newFakeMediaStore()
	w := newTestWorker(t, store, &fakeIndexer{}, nil, nil, nil)

	err := &upstream.StatusError{Kind: upstream.ErrRateLimited, StatusCode: http.StatusTooManyRequests}
	abandon := w.handleUploadError(context.Background(), "listing-1", "m1", err)

	assert.True(t, abandon)
	_, mediaCooldown := w.CooldownActive()
	assert.True(t, mediaCooldown)
	require.Len(t, store.rateLimitEvents, 1)
	assert.Equal(t, "media", store.rateLimitEvents[0])
}

// TestHandleUploadErrorNotFoundMarksPermanent verifies a 404/403 from the
// CDN marks the asset permanently failed rather than retried.
func TestHandleUploadErrorNotFoundMarksPermanent(t *testing.T) {
	w := newTestWorker(t, newFakeMediaStore(), &fakeIndexer{}, nil, nil, nil)

	err := &upstream.StatusError{Kind: upstream.ErrNotFound, StatusCode: http.StatusNotFound}
	abandon := w.handleUploadError(context.Background(), "listing-1", "m1", err)

	assert.False(t, abandon)
	assert.True(t, w.Failures.ShouldSkip("m1"))
}
