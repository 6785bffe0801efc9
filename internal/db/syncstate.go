package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSyncState returns the persisted high-water-mark for a resource, or the
// zero time if none has been recorded yet.
func (s *Store) GetSyncState(ctx context.Context, resource, originatingSystem string) (time.Time, error) {
	var hwm sql.NullTime
	err := s.DB.GetContext(ctx, &hwm, `
		SELECT high_water_mark FROM mls.sync_state WHERE resource = $1 AND originating_system = $2
	`, resource, originatingSystem)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("reading sync state for %s: %w", resource, err)
	}
	if !hwm.Valid {
		return time.Time{}, nil
	}
	return hwm.Time, nil
}

// SetSyncState persists a new high-water-mark. Called after every batch,
// not only at cycle end, so a crash never re-processes a fully-acknowledged
// batch.
func (s *Store) SetSyncState(ctx context.Context, resource, originatingSystem string, hwm time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.sync_state (resource, originating_system, high_water_mark, last_run_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (resource, originating_system) DO UPDATE SET
			high_water_mark = EXCLUDED.high_water_mark, last_run_at = now()
	`, resource, originatingSystem, hwm)
	if err != nil {
		return fmt.Errorf("writing sync state for %s: %w", resource, err)
	}
	return nil
}
