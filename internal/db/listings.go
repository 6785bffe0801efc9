package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// UpsertListing inserts or updates a listing row, including its raw JSON
// snapshot. It does not touch rooms, unit types, or media — those are
// replaced/upserted independently so a partial failure in one does not
// invalidate the others.
func (s *Store) UpsertListing(ctx context.Context, l model.Listing) error {
	features, err := json.Marshal(l.Features)
	if err != nil {
		return fmt.Errorf("marshaling features: %w", err)
	}
	permittedUse, err := json.Marshal(l.PermittedUse)
	if err != nil {
		return fmt.Errorf("marshaling permitted use: %w", err)
	}
	raw := l.Raw
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO mls.properties (
			listing_key, originating_system, standard_status, list_price, original_price,
			bedrooms_total, bathrooms_total, living_area, property_type, property_sub_type,
			city, state_or_province, postal_code, county, unparsed_address, street_name,
			subdivision, public_remarks, schools, latitude, longitude, year_built,
			lot_size_sqft, garage_spaces, parking_total, features, permitted_use, visible,
			modified_at, photos_changed_at, original_entry_at, price_changed_at,
			major_change_at, list_agent_mls_id, list_office_mls_id, raw, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34,
			$35, $36, now()
		)
		ON CONFLICT (listing_key) DO UPDATE SET
			originating_system = EXCLUDED.originating_system,
			standard_status     = EXCLUDED.standard_status,
			list_price           = EXCLUDED.list_price,
			original_price       = EXCLUDED.original_price,
			bedrooms_total       = EXCLUDED.bedrooms_total,
			bathrooms_total      = EXCLUDED.bathrooms_total,
			living_area          = EXCLUDED.living_area,
			property_type        = EXCLUDED.property_type,
			property_sub_type    = EXCLUDED.property_sub_type,
			city                 = EXCLUDED.city,
			state_or_province    = EXCLUDED.state_or_province,
			postal_code          = EXCLUDED.postal_code,
			county               = EXCLUDED.county,
			unparsed_address     = EXCLUDED.unparsed_address,
			street_name          = EXCLUDED.street_name,
			subdivision          = EXCLUDED.subdivision,
			public_remarks       = EXCLUDED.public_remarks,
			schools              = EXCLUDED.schools,
			latitude             = EXCLUDED.latitude,
			longitude            = EXCLUDED.longitude,
			year_built           = EXCLUDED.year_built,
			lot_size_sqft        = EXCLUDED.lot_size_sqft,
			garage_spaces        = EXCLUDED.garage_spaces,
			parking_total        = EXCLUDED.parking_total,
			features             = EXCLUDED.features,
			permitted_use        = EXCLUDED.permitted_use,
			visible              = EXCLUDED.visible,
			modified_at          = EXCLUDED.modified_at,
			photos_changed_at    = EXCLUDED.photos_changed_at,
			original_entry_at    = EXCLUDED.original_entry_at,
			price_changed_at     = EXCLUDED.price_changed_at,
			major_change_at      = EXCLUDED.major_change_at,
			list_agent_mls_id    = EXCLUDED.list_agent_mls_id,
			list_office_mls_id   = EXCLUDED.list_office_mls_id,
			raw                  = EXCLUDED.raw,
			updated_at           = now()
	`,
		l.ListingKey, l.OriginatingSys, l.StandardStatus, l.ListPrice, l.OriginalPrice,
		l.BedroomsTotal, l.BathroomsTotal, l.LivingArea, l.PropertyType, l.PropertySubType,
		l.City, l.StateOrProvince, l.PostalCode, l.County, l.UnparsedAddress, l.StreetName,
		l.Subdivision, l.PublicRemarks, l.Schools, l.Latitude, l.Longitude, l.YearBuilt,
		l.LotSizeSqFt, l.GarageSpaces, l.ParkingTotal, features, permittedUse, l.Visible,
		l.ModifiedAt, nullTime(l.PhotosChangedAt), nullTime(l.OriginalEntryAt),
		nullTime(l.PriceChangedAt), nullTime(l.MajorChangeAt), l.ListAgentMlsID,
		l.ListOfficeMlsID, []byte(raw),
	)
	if err != nil {
		return fmt.Errorf("upserting listing %s: %w", l.ListingKey, err)
	}
	return nil
}

// DeleteListing removes a listing and, via ON DELETE CASCADE, every child
// row (media, rooms, unit types, open houses).
func (s *Store) DeleteListing(ctx context.Context, listingKey string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM mls.properties WHERE listing_key = $1`, listingKey)
	if err != nil {
		return fmt.Errorf("deleting listing %s: %w", listingKey, err)
	}
	return nil
}

// ListingCount returns the number of listings currently stored, used by
// the deletions driver's fresh-start short-circuit.
func (s *Store) ListingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.GetContext(ctx, &n, `SELECT count(*) FROM mls.properties`); err != nil {
		return 0, fmt.Errorf("counting listings: %w", err)
	}
	return n, nil
}

// ReplaceRooms replaces a listing's room collection wholesale, within a
// single transaction, because upstream only ever supplies the full set.
func (s *Store) ReplaceRooms(ctx context.Context, listingKey string, rooms []model.Room) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning room replace tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mls.rooms WHERE listing_key = $1`, listingKey); err != nil {
		return fmt.Errorf("clearing rooms for %s: %w", listingKey, err)
	}
	for _, r := range rooms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mls.rooms (listing_key, room_type, level, length, width, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, listingKey, r.RoomType, r.Level, r.Length, r.Width, r.Description); err != nil {
			return fmt.Errorf("inserting room for %s: %w", listingKey, err)
		}
	}
	return tx.Commit()
}

// ReplaceUnitTypes mirrors ReplaceRooms for the PropertyUnitTypes collection.
func (s *Store) ReplaceUnitTypes(ctx context.Context, listingKey string, units []model.UnitType) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning unit type replace tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mls.unit_types WHERE listing_key = $1`, listingKey); err != nil {
		return fmt.Errorf("clearing unit types for %s: %w", listingKey, err)
	}
	for _, u := range units {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mls.unit_types (listing_key, unit_type, bedrooms, bathrooms, rent, square_feet)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, listingKey, u.UnitType, u.Bedrooms, u.Bathrooms, u.Rent, u.SquareFeet); err != nil {
			return fmt.Errorf("inserting unit type for %s: %w", listingKey, err)
		}
	}
	return tx.Commit()
}

// InsertOpenHouses inserts any open house rows not already present,
// de-duplicated on (listing_key, start, end) and silently dropping rows
// whose parent listing does not exist (foreign key violation).
func (s *Store) InsertOpenHouses(ctx context.Context, houses []model.OpenHouse) error {
	for _, h := range houses {
		_, err := s.DB.ExecContext(ctx, `
			INSERT INTO mls.open_houses (listing_key, start_time, end_time, remarks)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (listing_key, start_time, end_time) DO NOTHING
		`, h.ListingKey, h.Start, h.End, h.Remarks)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				// Parent listing absent (already deleted or never synced); drop silently.
				continue
			}
			return fmt.Errorf("inserting open house for %s: %w", h.ListingKey, err)
		}
	}
	return nil
}
