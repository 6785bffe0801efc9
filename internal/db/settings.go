package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting reads an operator-tunable key-value setting, e.g.
// media_download_interval_ms. The bool return is false when no row exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.GetContext(ctx, &value, `SELECT value FROM mls.settings WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes a setting. Only operator tooling (outside this core)
// calls this in production; it exists here so that tooling has a contract.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}
