package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/model"
	"github.com/rennietech/mls-sync-core/internal/objectstore"
	"github.com/rennietech/mls-sync-core/internal/upstream"
)

// Store is the internal/db surface the media worker needs.
type Store interface {
	CountMissingMedia(ctx context.Context) (int, error)
	SelectListingsWithMissingMedia(ctx context.Context, limit int) ([]string, error)
	MediaForListing(ctx context.Context, listingKey string) ([]model.MediaAsset, error)
	UpsertMediaMetadata(ctx context.Context, assets []model.MediaAsset) error
	UpdateMediaURL(ctx context.Context, mediaKey, upstreamURL string, modified time.Time) error
	MarkMediaDownloaded(ctx context.Context, mediaKey, localURL string) error
	DeleteOrphanMedia(ctx context.Context, listingKey string, keepKeys []string) error
	DeleteListing(ctx context.Context, listingKey string) error
	RecordRateLimitEvent(ctx context.Context, listingKey, source string) error
	UpsertProblematicListing(ctx context.Context, p model.ProblematicListing) error
	ClearProblematicListing(ctx context.Context, listingKey string) error
}

// Indexer is the internal/search surface the media worker needs, for the
// cascade delete triggered by a not-found listing-detail fetch.
type Indexer interface {
	Delete(ctx context.Context, listingKey string) error
}

// Downloader fetches raw asset bytes and reports the response content type.
type Downloader interface {
	Download(ctx context.Context, assetURL string) (body []byte, contentType string, err error)
}

// ManifestFetcher is the internal/upstream surface the worker needs to
// pull one listing's media manifest outside the paged delta-sync loop.
type ManifestFetcher interface {
	FetchOne(ctx context.Context, path string) (map[string]any, error)
}

// Governor paces media downloads to the CDN's steady-state interval and
// hourly ceiling; internal/ratelimit.Governor satisfies it.
type Governor interface {
	Await(ctx context.Context) error
}

// Metrics is the internal/metrics surface the worker reports outcomes
// to. Optional: a nil Worker.Metrics is a no-op.
type Metrics interface {
	AddDownload(outcome string)
	AddRateLimitEvent(source string)
	SetMediaBacklog(n int)
}

// Worker runs the single long-lived media-hydration loop, independent of
// the sync schedule.
type Worker struct {
	Store      Store
	Objects    *objectstore.Store
	Indexer    Indexer
	Downloader Downloader
	Governor   Governor
	Fetcher    ManifestFetcher
	Metrics    Metrics

	OriginatingSystem string
	StoragePrefix     string

	Failures    *AssetFailureTracker
	Quarantines *Quarantine

	Log zerolog.Logger

	// state guards the three fields below: they are written from the
	// worker's own goroutine (Run/iterate/processAsset) and read from the
	// orchestrator's goroutine (CooldownActive/DownloadsSinceLast, called
	// from the progress recorder each cycle).
	state              sync.Mutex
	mediaCooldownUntil time.Time
	apiCooldownUntil   time.Time
	downloadsSinceLast int
}

func NewWorker(store Store, objects *objectstore.Store, indexer Indexer, downloader Downloader, governor Governor, fetcher ManifestFetcher, metrics Metrics, originatingSystem, storagePrefix string, log zerolog.Logger) *Worker {
	return &Worker{
		Store:             store,
		Objects:           objects,
		Indexer:           indexer,
		Downloader:        downloader,
		Governor:          governor,
		Fetcher:           fetcher,
		Metrics:           metrics,
		OriginatingSystem: originatingSystem,
		StoragePrefix:     storagePrefix,
		Failures:          NewAssetFailureTracker(),
		Quarantines:       NewQuarantine(),
		Log:               log.With().Str("component", "media_worker").Logger(),
	}
}

func (w *Worker) addDownloadMetric(outcome string) {
	if w.Metrics != nil {
		w.Metrics.AddDownload(outcome)
	}
}

func (w *Worker) addRateLimitMetric(source string) {
	if w.Metrics != nil {
		w.Metrics.AddRateLimitEvent(source)
	}
}

// DownloadsSinceLast returns and atomically clears the hydration counter;
// the progress recorder snapshots this value then it resets.
func (w *Worker) DownloadsSinceLast() int {
	w.state.Lock()
	defer w.state.Unlock()
	n := w.downloadsSinceLast
	w.downloadsSinceLast = 0
	return n
}

// CooldownActive reports whether either global cooldown is currently live,
// for the progress sample's rate-limit flags.
func (w *Worker) CooldownActive() (api, mediaCooldown bool) {
	w.state.Lock()
	defer w.state.Unlock()
	now := time.Now()
	return now.Before(w.apiCooldownUntil), now.Before(w.mediaCooldownUntil)
}

func (w *Worker) incrementDownloadsSinceLast() {
	w.state.Lock()
	w.downloadsSinceLast++
	w.state.Unlock()
}

func (w *Worker) setMediaCooldown(until time.Time) {
	w.state.Lock()
	w.mediaCooldownUntil = until
	w.state.Unlock()
}

func (w *Worker) setAPICooldown(until time.Time) {
	w.state.Lock()
	w.apiCooldownUntil = until
	w.state.Unlock()
}

func (w *Worker) mediaCooldownWait() time.Duration {
	w.state.Lock()
	defer w.state.Unlock()
	return time.Until(w.mediaCooldownUntil)
}

func (w *Worker) apiCooldownWait() time.Duration {
	w.state.Lock()
	defer w.state.Unlock()
	return time.Until(w.apiCooldownUntil)
}

// Sweep is the orchestrator's per-cycle retry-missing-media step. The
// hydration loop already retries missing media continuously and
// independently of the sync schedule, so Sweep does not re-select or
// re-download anything itself; it reports the current backlog size and
// garbage-collects the in-memory failure/quarantine maps, which otherwise
// only ever grow for the life of the process.
func (w *Worker) Sweep(ctx context.Context) error {
	missing, err := w.Store.CountMissingMedia(ctx)
	if err != nil {
		return fmt.Errorf("counting missing media backlog: %w", err)
	}
	now := time.Now()
	prunedFailures := w.Failures.Prune(now)
	prunedQuarantines := w.Quarantines.Prune(now)
	if w.Metrics != nil {
		w.Metrics.SetMediaBacklog(missing)
	}
	w.Log.Info().
		Int("missing_media", missing).
		Int("quarantined_listings", w.Quarantines.Count(now)).
		Int("pruned_asset_failures", prunedFailures).
		Int("pruned_quarantines", prunedQuarantines).
		Msg("media backlog sweep")
	return nil
}

// Run executes the worker loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.iterate(ctx)
	}
}

func (w *Worker) iterate(ctx context.Context) {
	if wait := w.mediaCooldownWait(); wait > 0 {
		sleep(ctx, wait)
		return
	}
	if wait := w.apiCooldownWait(); wait > 0 {
		sleep(ctx, wait)
		return
	}

	missing, err := w.Store.CountMissingMedia(ctx)
	if err != nil {
		w.Log.Error().Err(err).Msg("counting missing media failed")
		sleep(ctx, time.Minute)
		return
	}
	if missing == 0 {
		sleep(ctx, 5*time.Minute)
		return
	}

	listingKey, ok := w.selectListing(ctx)
	if !ok {
		sleep(ctx, time.Minute)
		return
	}

	manifest, err := w.Fetcher.FetchOne(ctx, fmt.Sprintf("/Property('%s')?$expand=Media&$select=ListingKey", url.PathEscape(listingKey)))
	if err != nil {
		w.handleManifestError(ctx, listingKey, err)
		return
	}

	w.Quarantines.Clear(listingKey)
	if err := w.Store.ClearProblematicListing(ctx, listingKey); err != nil {
		w.Log.Warn().Err(err).Str("listing_key", listingKey).Msg("clearing problematic listing mirror failed")
	}

	fresh := mapSlice(manifest, "Media")
	freshKeys := make([]string, 0, len(fresh))
	for _, m := range fresh {
		if k, _ := m["MediaKey"].(string); k != "" {
			freshKeys = append(freshKeys, k)
		}
	}
	if err := w.Store.DeleteOrphanMedia(ctx, listingKey, freshKeys); err != nil {
		w.Log.Error().Err(err).Str("listing_key", listingKey).Msg("reconciling orphan media failed")
	}

	existing, err := w.Store.MediaForListing(ctx, listingKey)
	if err != nil {
		w.Log.Error().Err(err).Str("listing_key", listingKey).Msg("loading existing media rows failed")
		return
	}
	byKey := make(map[string]model.MediaAsset, len(existing))
	for _, a := range existing {
		byKey[a.MediaKey] = a
	}

	for _, m := range fresh {
		if w.processAsset(ctx, listingKey, m, byKey) {
			return // 429 on upload: break out of this listing's loop entirely
		}
	}
}

// processAsset handles one fresh manifest entry. It returns true if the
// worker should abandon the rest of this listing's assets (media 429).
func (w *Worker) processAsset(ctx context.Context, listingKey string, m map[string]any, existing map[string]model.MediaAsset) bool {
	mediaKey, _ := m["MediaKey"].(string)
	if mediaKey == "" {
		return false
	}
	category, _ := m["MediaCategory"].(string)
	if category == "Video" || category == "VirtualTour" {
		return false
	}
	row, known := existing[mediaKey]
	if w.Failures.ShouldSkip(mediaKey) {
		return false
	}

	assetURL, _ := m["MediaURL"].(string)
	modified := parseTime(m["MediaModificationTimestamp"])
	if assetURL == "" {
		return false
	}

	// A hydrated asset is only ever re-fetched when the upstream manifest
	// shows a new URL or modification timestamp; otherwise it is skipped
	// below. This must run before the LocalURL skip or a re-pointed asset
	// would never be noticed again once hydrated.
	stale := known && (assetURL != row.UpstreamURL || !modified.Equal(row.UpstreamModified))
	if stale {
		if err := w.Store.UpdateMediaURL(ctx, mediaKey, assetURL, modified); err != nil {
			w.Log.Error().Err(err).Str("media_key", mediaKey).Msg("updating media url failed")
		}
		row.LocalURL = nil
	}

	if known && row.LocalURL != nil {
		return false
	}

	if isExpired(assetURL) {
		// Expired pre-flight: the manifest we just fetched is already fresh,
		// so the fresh URL from this same response is what we use below.
		w.Log.Debug().Str("media_key", mediaKey).Msg("asset url expired, using freshly-fetched manifest value")
	}

	w.Failures.RecordAttempt(mediaKey)
	if err := w.Governor.Await(ctx); err != nil {
		return false
	}
	body, contentType, err := w.Downloader.Download(ctx, assetURL)
	if err != nil {
		return w.handleUploadError(ctx, listingKey, mediaKey, err)
	}

	var ordinal int
	if o, ok := m["Order"].(float64); ok {
		ordinal = int(o)
	}
	key := objectstore.Key(w.StoragePrefix, w.OriginatingSystem, listingKey, ordinal, contentType)
	if err := w.Objects.Put(ctx, key, body, contentType); err != nil {
		return w.handleUploadError(ctx, listingKey, mediaKey, err)
	}

	localURL := w.Objects.PublicURL(key)
	if err := w.Store.MarkMediaDownloaded(ctx, mediaKey, localURL); err != nil {
		w.Log.Error().Err(err).Str("media_key", mediaKey).Msg("marking media downloaded failed")
		return false
	}
	w.incrementDownloadsSinceLast()
	w.addDownloadMetric("success")
	return false
}

func (w *Worker) handleUploadError(ctx context.Context, listingKey, mediaKey string, err error) bool {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			w.setMediaCooldown(time.Now().Add(10 * time.Minute))
			if rerr := w.Store.RecordRateLimitEvent(ctx, listingKey, "media"); rerr != nil {
				w.Log.Warn().Err(rerr).Msg("recording media rate-limit event failed")
			}
			w.addRateLimitMetric("media")
			w.addDownloadMetric("rate_limited")
			return true
		case se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusNotFound:
			w.Failures.MarkPermanent(mediaKey)
			w.addDownloadMetric("permanent_failure")
			return false
		}
	}
	w.Log.Error().Err(err).Str("media_key", mediaKey).Msg("asset upload failed")
	w.addDownloadMetric("failure")
	return false
}

func (w *Worker) handleManifestError(ctx context.Context, listingKey string, err error) {
	if errors.Is(err, upstream.ErrNotFound) {
		if derr := w.Store.DeleteListing(ctx, listingKey); derr != nil {
			w.Log.Error().Err(derr).Str("listing_key", listingKey).Msg("cascading delete after not-found failed")
		}
		if derr := w.Indexer.Delete(ctx, listingKey); derr != nil {
			w.Log.Error().Err(derr).Str("listing_key", listingKey).Msg("search delete after not-found failed")
		}
		return
	}
	if errors.Is(err, upstream.ErrRateLimited) {
		w.setAPICooldown(time.Now().Add(10 * time.Minute))
		if rerr := w.Store.RecordRateLimitEvent(ctx, listingKey, "api"); rerr != nil {
			w.Log.Warn().Err(rerr).Msg("recording api rate-limit event failed")
		}
		w.addRateLimitMetric("api")
		fails, cooldown := w.Quarantines.RecordHit(listingKey)
		if perr := w.Store.UpsertProblematicListing(ctx, model.ProblematicListing{
			ListingKey:       listingKey,
			ConsecutiveFails: fails,
			CooldownUntil:    time.Now().Add(cooldown),
			LastHitAt:        time.Now(),
		}); perr != nil {
			w.Log.Warn().Err(perr).Msg("persisting problematic listing failed")
		}
		return
	}
	w.Log.Error().Err(err).Str("listing_key", listingKey).Msg("manifest fetch failed")
}

// selectListing picks one listing with missing media, preferring the most
// recently modified, skipping up to ten quarantined alternates.
func (w *Worker) selectListing(ctx context.Context) (string, bool) {
	candidates, err := w.Store.SelectListingsWithMissingMedia(ctx, 10)
	if err != nil {
		w.Log.Error().Err(err).Msg("selecting listings with missing media failed")
		return "", false
	}
	for _, key := range candidates {
		if !w.Quarantines.IsQuarantined(key) {
			return key, true
		}
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func isExpired(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	exp := u.Query().Get("expires")
	if exp == "" {
		return false
	}
	unixSecs, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return false
	}
	return time.Until(time.Unix(unixSecs, 0)) < 5*time.Minute
}

func mapSlice(rec map[string]any, key string) []map[string]any {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

