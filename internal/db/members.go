package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// UpsertMember stores an agent/member dimension row, never locally deleted
// by this core (mirrors UpsertOffice; see DESIGN.md Open Question 5).
func (s *Store) UpsertMember(ctx context.Context, m model.Member) error {
	raw := m.Raw
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO mls.members (member_mls_id, full_name, email, phone, office_mls_id, modified_at, raw, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (member_mls_id) DO UPDATE SET
			full_name = EXCLUDED.full_name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			office_mls_id = EXCLUDED.office_mls_id, modified_at = EXCLUDED.modified_at,
			raw = EXCLUDED.raw, updated_at = now()
	`, m.MemberMlsID, m.FullName, m.Email, m.Phone, m.OfficeMlsID, nullTime(m.ModifiedAt), []byte(raw))
	if err != nil {
		return fmt.Errorf("upserting member %s: %w", m.MemberMlsID, err)
	}
	return nil
}
