// Package db is the relational store adapter: typed upserts/deletes for
// every core entity, numeric coercion, high-water-mark bookkeeping, and
// schema bootstrap. It is grounded on the teacher-adjacent
// store.Migrate/sqlx idiom seen across the retrieved pack (raw SQL behind a
// thin typed wrapper, no migration framework).
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps a pooled Postgres connection. All mls-owned tables live in
// the mls schema.
type Store struct {
	DB *sqlx.DB
}

// Open connects to dsn using the pgx stdlib driver and applies
// teacher-style pool limits.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// EnsureSchema bootstraps the mls namespace with idempotent DDL. This is a
// one-shot bootstrap, not a migration history: reruns are safe no-ops.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS mls`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS mls.properties (
			listing_key        TEXT PRIMARY KEY,
			originating_system TEXT NOT NULL,
			standard_status    TEXT,
			list_price         INTEGER,
			original_price     INTEGER,
			bedrooms_total     INTEGER,
			bathrooms_total    INTEGER,
			living_area        INTEGER,
			property_type      TEXT,
			property_sub_type  TEXT,
			city               TEXT,
			state_or_province  TEXT,
			postal_code        TEXT,
			county             TEXT,
			unparsed_address   TEXT,
			street_name        TEXT,
			subdivision        TEXT,
			public_remarks     TEXT,
			schools            TEXT,
			latitude           DOUBLE PRECISION,
			longitude          DOUBLE PRECISION,
			geom               GEOGRAPHY(Point, 4326),
			year_built         INTEGER,
			lot_size_sqft      INTEGER,
			garage_spaces      INTEGER,
			parking_total      INTEGER,
			features           JSONB,
			permitted_use      JSONB,
			visible            BOOLEAN NOT NULL DEFAULT true,
			modified_at        TIMESTAMPTZ NOT NULL,
			photos_changed_at  TIMESTAMPTZ,
			original_entry_at  TIMESTAMPTZ,
			price_changed_at   TIMESTAMPTZ,
			major_change_at    TIMESTAMPTZ,
			list_agent_mls_id  TEXT,
			list_office_mls_id TEXT,
			raw                JSONB NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE OR REPLACE FUNCTION mls.properties_set_geom() RETURNS trigger AS $$
		BEGIN
			IF NEW.latitude IS NOT NULL AND NEW.longitude IS NOT NULL THEN
				NEW.geom := ST_SetSRID(ST_MakePoint(NEW.longitude, NEW.latitude), 4326)::geography;
			ELSE
				NEW.geom := NULL;
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_properties_set_geom ON mls.properties`,
		`CREATE TRIGGER trg_properties_set_geom BEFORE INSERT OR UPDATE ON mls.properties
			FOR EACH ROW EXECUTE FUNCTION mls.properties_set_geom()`,
		`CREATE INDEX IF NOT EXISTS idx_properties_modified_at ON mls.properties(modified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_properties_geom ON mls.properties USING GIST (geom)`,

		`CREATE TABLE IF NOT EXISTS mls.media (
			media_key         TEXT PRIMARY KEY,
			listing_key       TEXT NOT NULL REFERENCES mls.properties(listing_key) ON DELETE CASCADE,
			category          TEXT NOT NULL,
			ordinal           INTEGER NOT NULL,
			upstream_url      TEXT NOT NULL,
			upstream_modified TIMESTAMPTZ,
			width             INTEGER,
			height            INTEGER,
			local_url         TEXT,
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_listing_key ON mls.media(listing_key)`,
		`CREATE INDEX IF NOT EXISTS idx_media_missing ON mls.media(listing_key) WHERE local_url IS NULL AND category = 'Photo'`,

		`CREATE TABLE IF NOT EXISTS mls.rooms (
			listing_key TEXT NOT NULL REFERENCES mls.properties(listing_key) ON DELETE CASCADE,
			room_type   TEXT,
			level       TEXT,
			length      DOUBLE PRECISION,
			width       DOUBLE PRECISION,
			description TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_listing_key ON mls.rooms(listing_key)`,

		`CREATE TABLE IF NOT EXISTS mls.unit_types (
			listing_key TEXT NOT NULL REFERENCES mls.properties(listing_key) ON DELETE CASCADE,
			unit_type   TEXT,
			bedrooms    INTEGER,
			bathrooms   INTEGER,
			rent        INTEGER,
			square_feet INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unit_types_listing_key ON mls.unit_types(listing_key)`,

		`CREATE TABLE IF NOT EXISTS mls.open_houses (
			listing_key TEXT NOT NULL REFERENCES mls.properties(listing_key) ON DELETE CASCADE,
			start_time  TIMESTAMPTZ NOT NULL,
			end_time    TIMESTAMPTZ NOT NULL,
			remarks     TEXT,
			UNIQUE (listing_key, start_time, end_time)
		)`,

		`CREATE TABLE IF NOT EXISTS mls.offices (
			office_mls_id TEXT PRIMARY KEY,
			name          TEXT,
			phone         TEXT,
			email         TEXT,
			address       TEXT,
			modified_at   TIMESTAMPTZ,
			raw           JSONB,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS mls.members (
			member_mls_id TEXT PRIMARY KEY,
			full_name     TEXT,
			email         TEXT,
			phone         TEXT,
			office_mls_id TEXT,
			modified_at   TIMESTAMPTZ,
			raw           JSONB,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS mls.lookups (
			lookup_key   TEXT NOT NULL,
			lookup_value TEXT NOT NULL,
			display_name TEXT,
			PRIMARY KEY (lookup_key, lookup_value)
		)`,

		`CREATE TABLE IF NOT EXISTS mls.sync_state (
			resource           TEXT NOT NULL,
			originating_system TEXT NOT NULL,
			high_water_mark    TIMESTAMPTZ,
			last_run_at        TIMESTAMPTZ,
			PRIMARY KEY (resource, originating_system)
		)`,

		`CREATE TABLE IF NOT EXISTS mls.progress_history (
			id                     UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			taken_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
			total_listings         INTEGER NOT NULL,
			active_listings        INTEGER NOT NULL,
			total_media            INTEGER NOT NULL,
			hydrated_media         INTEGER NOT NULL,
			missing_media          INTEGER NOT NULL,
			percent_hydrated       DOUBLE PRECISION NOT NULL,
			listings_missing_media INTEGER NOT NULL,
			downloads_since_last   INTEGER NOT NULL,
			api_cooldown_active    BOOLEAN NOT NULL,
			media_cooldown_active  BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_history_taken_at ON mls.progress_history(taken_at)`,

		`CREATE TABLE IF NOT EXISTS mls.settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS mls.rate_limit_events (
			id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			listing_key TEXT,
			source      TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_events_occurred_at ON mls.rate_limit_events(occurred_at)`,

		`CREATE TABLE IF NOT EXISTS mls.problematic_properties (
			listing_key       TEXT PRIMARY KEY,
			consecutive_fails INTEGER NOT NULL DEFAULT 0,
			cooldown_until    TIMESTAMPTZ,
			last_hit_at       TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}

// TruncateAll wipes every mls-owned table, used by the reset operation.
func (s *Store) TruncateAll(ctx context.Context) error {
	tables := []string{
		"mls.progress_history", "mls.rate_limit_events", "mls.problematic_properties",
		"mls.settings", "mls.sync_state", "mls.open_houses", "mls.unit_types", "mls.rooms",
		"mls.media", "mls.lookups", "mls.offices", "mls.members", "mls.properties",
	}
	for _, t := range tables {
		if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", t)); err != nil {
			return fmt.Errorf("truncating %s: %w", t, err)
		}
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
