package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// UpsertMediaMetadata writes the asset rows for a listing's current
// manifest. local_url is intentionally not part of this statement's
// conflict update: it is managed exclusively by MarkMediaDownloaded and
// UpdateMediaURL so a metadata refresh never clobbers a hydrated asset.
func (s *Store) UpsertMediaMetadata(ctx context.Context, assets []model.MediaAsset) error {
	for _, a := range assets {
		_, err := s.DB.ExecContext(ctx, `
			INSERT INTO mls.media (
				media_key, listing_key, category, ordinal, upstream_url,
				upstream_modified, width, height, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (media_key) DO UPDATE SET
				listing_key       = EXCLUDED.listing_key,
				category          = EXCLUDED.category,
				ordinal           = EXCLUDED.ordinal,
				width             = EXCLUDED.width,
				height            = EXCLUDED.height,
				updated_at        = now()
		`, a.MediaKey, a.ListingKey, string(a.Category), a.Order, a.UpstreamURL,
			nullTime(a.UpstreamModified), a.Width, a.Height)
		if err != nil {
			return fmt.Errorf("upserting media %s: %w", a.MediaKey, err)
		}
	}
	return nil
}

// MarkMediaDownloaded records a hydrated asset's stable CDN URL.
func (s *Store) MarkMediaDownloaded(ctx context.Context, mediaKey, localURL string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE mls.media SET local_url = $2, updated_at = now() WHERE media_key = $1
	`, mediaKey, localURL)
	if err != nil {
		return fmt.Errorf("marking media %s downloaded: %w", mediaKey, err)
	}
	return nil
}

// UpdateMediaURL refreshes an asset's stored upstream URL/timestamp (used
// when the worker detects a fresh manifest value) and, per the monotonicity
// invariant, clears local_url so the asset is re-hydrated from the new URL.
func (s *Store) UpdateMediaURL(ctx context.Context, mediaKey, upstreamURL string, modified time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE mls.media
		SET upstream_url = $2, upstream_modified = $3, local_url = NULL, updated_at = now()
		WHERE media_key = $1
	`, mediaKey, upstreamURL, nullTime(modified))
	if err != nil {
		return fmt.Errorf("updating media url %s: %w", mediaKey, err)
	}
	return nil
}

// DeleteOrphanMedia removes local rows for a listing whose asset keys are
// not present in a fresh upstream manifest.
func (s *Store) DeleteOrphanMedia(ctx context.Context, listingKey string, keepKeys []string) error {
	if len(keepKeys) == 0 {
		_, err := s.DB.ExecContext(ctx, `DELETE FROM mls.media WHERE listing_key = $1`, listingKey)
		if err != nil {
			return fmt.Errorf("clearing orphan media for %s: %w", listingKey, err)
		}
		return nil
	}
	query, args, err := sqlxIn(`DELETE FROM mls.media WHERE listing_key = ? AND media_key NOT IN (?)`, listingKey, keepKeys)
	if err != nil {
		return fmt.Errorf("building orphan media delete: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, s.DB.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting orphan media for %s: %w", listingKey, err)
	}
	return nil
}

// MediaForListing returns the current media rows for a listing, used by the
// worker's per-asset accounting pass.
func (s *Store) MediaForListing(ctx context.Context, listingKey string) ([]model.MediaAsset, error) {
	var rows []mediaRow
	err := s.DB.SelectContext(ctx, &rows, `
		SELECT media_key, listing_key, category, ordinal, upstream_url,
		       upstream_modified, width, height, local_url
		FROM mls.media WHERE listing_key = $1
	`, listingKey)
	if err != nil {
		return nil, fmt.Errorf("selecting media for %s: %w", listingKey, err)
	}
	out := make([]model.MediaAsset, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CountMissingMedia returns the number of photo assets lacking a local URL
// (the media worker's "is there anything to do" gate).
func (s *Store) CountMissingMedia(ctx context.Context) (int, error) {
	var n int
	err := s.DB.GetContext(ctx, &n, `
		SELECT count(*) FROM mls.media
		WHERE local_url IS NULL AND category = 'Photo' AND upstream_url <> ''
	`)
	if err != nil {
		return 0, fmt.Errorf("counting missing media: %w", err)
	}
	return n, nil
}

// SelectListingsWithMissingMedia returns up to limit listing keys that have
// at least one missing photo asset, most-recently-modified first.
func (s *Store) SelectListingsWithMissingMedia(ctx context.Context, limit int) ([]string, error) {
	var keys []string
	err := s.DB.SelectContext(ctx, &keys, `
		SELECT DISTINCT p.listing_key
		FROM mls.properties p
		JOIN mls.media m ON m.listing_key = p.listing_key
		WHERE m.local_url IS NULL AND m.category = 'Photo' AND m.upstream_url <> ''
		ORDER BY p.modified_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting listings with missing media: %w", err)
	}
	return keys, nil
}

type mediaRow struct {
	MediaKey         string     `db:"media_key"`
	ListingKey       string     `db:"listing_key"`
	Category         string     `db:"category"`
	Ordinal          int        `db:"ordinal"`
	UpstreamURL      string     `db:"upstream_url"`
	UpstreamModified *time.Time `db:"upstream_modified"`
	Width            *int       `db:"width"`
	Height           *int       `db:"height"`
	LocalURL         *string    `db:"local_url"`
}

func (r mediaRow) toModel() model.MediaAsset {
	a := model.MediaAsset{
		MediaKey:    r.MediaKey,
		ListingKey:  r.ListingKey,
		Category:    model.MediaCategory(r.Category),
		Order:       r.Ordinal,
		UpstreamURL: r.UpstreamURL,
		Width:       r.Width,
		Height:      r.Height,
		LocalURL:    r.LocalURL,
	}
	if r.UpstreamModified != nil {
		a.UpstreamModified = *r.UpstreamModified
	}
	return a
}
