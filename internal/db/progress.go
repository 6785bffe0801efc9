package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// InsertProgressSample appends one aggregate snapshot row. When the sample
// carries no id, one is generated client-side with google/uuid rather than
// left to the column's gen_random_uuid() default; the id is not returned.
func (s *Store) InsertProgressSample(ctx context.Context, p model.ProgressSample) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.progress_history (
			id, taken_at, total_listings, active_listings, total_media, hydrated_media,
			missing_media, percent_hydrated, listings_missing_media,
			downloads_since_last, api_cooldown_active, media_cooldown_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.TakenAt, p.TotalListings, p.ActiveListings, p.TotalMedia, p.HydratedMedia,
		p.MissingMedia, p.PercentHydrated, p.ListingsMissingMedia,
		p.DownloadsSinceLast, p.APICooldownActive, p.MediaCooldownActive)
	if err != nil {
		return fmt.Errorf("inserting progress sample: %w", err)
	}
	return nil
}

// PruneProgressSamples deletes rows older than olderThan.
func (s *Store) PruneProgressSamples(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := s.DB.ExecContext(ctx, `DELETE FROM mls.progress_history WHERE taken_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("pruning progress samples: %w", err)
	}
	return nil
}

// ListingAggregates reports the counts InsertProgressSample needs: totals
// for listings and media, hydrated/missing splits, and how many distinct
// listings currently have any missing media.
type ListingAggregates struct {
	TotalListings        int
	ActiveListings       int
	TotalMedia           int
	HydratedMedia        int
	MissingMedia         int
	ListingsMissingMedia int
}

func (s *Store) Aggregates(ctx context.Context) (ListingAggregates, error) {
	var a ListingAggregates
	if err := s.DB.GetContext(ctx, &a.TotalListings, `SELECT count(*) FROM mls.properties`); err != nil {
		return a, fmt.Errorf("counting total listings: %w", err)
	}
	if err := s.DB.GetContext(ctx, &a.ActiveListings, `SELECT count(*) FROM mls.properties WHERE visible`); err != nil {
		return a, fmt.Errorf("counting active listings: %w", err)
	}
	if err := s.DB.GetContext(ctx, &a.TotalMedia, `SELECT count(*) FROM mls.media WHERE category = 'Photo'`); err != nil {
		return a, fmt.Errorf("counting total media: %w", err)
	}
	if err := s.DB.GetContext(ctx, &a.HydratedMedia, `SELECT count(*) FROM mls.media WHERE category = 'Photo' AND local_url IS NOT NULL`); err != nil {
		return a, fmt.Errorf("counting hydrated media: %w", err)
	}
	a.MissingMedia = a.TotalMedia - a.HydratedMedia
	if err := s.DB.GetContext(ctx, &a.ListingsMissingMedia, `
		SELECT count(DISTINCT listing_key) FROM mls.media WHERE category = 'Photo' AND local_url IS NULL
	`); err != nil {
		return a, fmt.Errorf("counting listings missing media: %w", err)
	}
	return a, nil
}
