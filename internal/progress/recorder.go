// Package progress implements the periodic aggregate snapshot and the
// full-reset operation. Grounded on the lucasthakur store's transactional
// style for reading aggregate counts.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/db"
	"github.com/rennietech/mls-sync-core/internal/model"
)

// Store is the internal/db surface the recorder needs.
type Store interface {
	Aggregates(ctx context.Context) (db.ListingAggregates, error)
	InsertProgressSample(ctx context.Context, p model.ProgressSample) error
	PruneProgressSamples(ctx context.Context, olderThan time.Duration) error
}

// DownloadCounter is satisfied by the media Worker: the download counter is
// cleared (not just read) on every tick so the recorder and the worker
// never double-count.
type DownloadCounter interface {
	DownloadsSinceLast() int
	CooldownActive() (api, media bool)
}

// Recorder snapshots system-wide progress at most once per gate interval.
type Recorder struct {
	Store     Store
	Counter   DownloadCounter
	Gate      time.Duration
	Retention time.Duration
	Log       zerolog.Logger

	lastTick time.Time
}

func NewRecorder(store Store, counter DownloadCounter, log zerolog.Logger) *Recorder {
	return &Recorder{
		Store:     store,
		Counter:   counter,
		Gate:      15 * time.Minute,
		Retention: 7 * 24 * time.Hour,
		Log:       log.With().Str("component", "progress_recorder").Logger(),
	}
}

// Tick snapshots progress if the gate interval has elapsed since the last
// successful snapshot; it is a no-op otherwise.
func (r *Recorder) Tick(ctx context.Context) error {
	if !r.lastTick.IsZero() && time.Since(r.lastTick) < r.Gate {
		return nil
	}

	agg, err := r.Store.Aggregates(ctx)
	if err != nil {
		return fmt.Errorf("reading aggregates: %w", err)
	}

	var percentHydrated float64
	if agg.TotalMedia > 0 {
		percentHydrated = float64(agg.HydratedMedia) / float64(agg.TotalMedia) * 100
	}

	apiCooldown, mediaCooldown := r.Counter.CooldownActive()
	sample := model.ProgressSample{
		TakenAt:              time.Now(),
		TotalListings:        agg.TotalListings,
		ActiveListings:       agg.ActiveListings,
		TotalMedia:           agg.TotalMedia,
		HydratedMedia:        agg.HydratedMedia,
		MissingMedia:         agg.MissingMedia,
		PercentHydrated:      percentHydrated,
		ListingsMissingMedia: agg.ListingsMissingMedia,
		DownloadsSinceLast:   r.Counter.DownloadsSinceLast(),
		APICooldownActive:    apiCooldown,
		MediaCooldownActive:  mediaCooldown,
	}

	if err := r.Store.InsertProgressSample(ctx, sample); err != nil {
		return fmt.Errorf("inserting progress sample: %w", err)
	}
	if err := r.Store.PruneProgressSamples(ctx, r.Retention); err != nil {
		r.Log.Warn().Err(err).Msg("pruning old progress samples failed")
	}

	r.lastTick = time.Now()
	r.Log.Info().
		Int("total_listings", sample.TotalListings).
		Float64("percent_hydrated", sample.PercentHydrated).
		Msg("progress snapshot recorded")
	return nil
}
