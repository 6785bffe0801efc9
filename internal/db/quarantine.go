package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// RecordRateLimitEvent logs a single upstream rejection for diagnostics.
// source is "api" or "media". The row id is generated client-side with
// google/uuid; it is not returned to the caller.
func (s *Store) RecordRateLimitEvent(ctx context.Context, listingKey, source string) error {
	var key any
	if listingKey != "" {
		key = listingKey
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.rate_limit_events (id, listing_key, source, occurred_at)
		VALUES ($1, $2, $3, now())
	`, uuid.NewString(), key, source)
	if err != nil {
		return fmt.Errorf("recording rate limit event: %w", err)
	}
	return nil
}

// GetProblematicListing returns the persisted quarantine row for a listing,
// if one exists. The media worker's in-memory Quarantine map is the hot
// path; this is the durable mirror consulted on process restart.
func (s *Store) GetProblematicListing(ctx context.Context, listingKey string) (*model.ProblematicListing, error) {
	var row struct {
		ListingKey       string       `db:"listing_key"`
		ConsecutiveFails int          `db:"consecutive_fails"`
		CooldownUntil    sql.NullTime `db:"cooldown_until"`
		LastHitAt        sql.NullTime `db:"last_hit_at"`
	}
	err := s.DB.GetContext(ctx, &row, `
		SELECT listing_key, consecutive_fails, cooldown_until, last_hit_at
		FROM mls.problematic_properties WHERE listing_key = $1
	`, listingKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading problematic listing %s: %w", listingKey, err)
	}
	p := &model.ProblematicListing{ListingKey: row.ListingKey, ConsecutiveFails: row.ConsecutiveFails}
	if row.CooldownUntil.Valid {
		p.CooldownUntil = row.CooldownUntil.Time
	}
	if row.LastHitAt.Valid {
		p.LastHitAt = row.LastHitAt.Time
	}
	return p, nil
}

// UpsertProblematicListing persists the current quarantine state.
func (s *Store) UpsertProblematicListing(ctx context.Context, p model.ProblematicListing) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.problematic_properties (listing_key, consecutive_fails, cooldown_until, last_hit_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (listing_key) DO UPDATE SET
			consecutive_fails = EXCLUDED.consecutive_fails,
			cooldown_until    = EXCLUDED.cooldown_until,
			last_hit_at       = EXCLUDED.last_hit_at
	`, p.ListingKey, p.ConsecutiveFails, nullTime(p.CooldownUntil), nullTime(p.LastHitAt))
	if err != nil {
		return fmt.Errorf("upserting problematic listing %s: %w", p.ListingKey, err)
	}
	return nil
}

// ClearProblematicListing removes quarantine state once a listing is
// handled successfully again.
func (s *Store) ClearProblematicListing(ctx context.Context, listingKey string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM mls.problematic_properties WHERE listing_key = $1`, listingKey)
	if err != nil {
		return fmt.Errorf("clearing problematic listing %s: %w", listingKey, err)
	}
	return nil
}

