package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// UpsertOffice stores an office dimension row. Offices are never locally
// deleted by this core; they are referenced from listings by key only and
// have no tombstone feed of their own (see DESIGN.md Open Question 5).
func (s *Store) UpsertOffice(ctx context.Context, o model.Office) error {
	raw := o.Raw
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.offices (office_mls_id, name, phone, email, address, modified_at, raw, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (office_mls_id) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email,
			address = EXCLUDED.address, modified_at = EXCLUDED.modified_at,
			raw = EXCLUDED.raw, updated_at = now()
	`, o.OfficeMlsID, o.Name, o.Phone, o.Email, o.Address, nullTime(o.ModifiedAt), []byte(raw))
	if err != nil {
		return fmt.Errorf("upserting office %s: %w", o.OfficeMlsID, err)
	}
	return nil
}
