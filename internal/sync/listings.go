package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// ListingStore is the internal/db surface the listing driver needs.
type ListingStore interface {
	UpsertListing(ctx context.Context, l model.Listing) error
	ReplaceRooms(ctx context.Context, listingKey string, rooms []model.Room) error
	ReplaceUnitTypes(ctx context.Context, listingKey string, units []model.UnitType) error
	UpsertMediaMetadata(ctx context.Context, assets []model.MediaAsset) error
}

// ListingIndexer is the internal/search surface the listing driver needs.
type ListingIndexer interface {
	Upsert(ctx context.Context, l model.Listing) error
}

// NewListingDriver builds the /Property delta driver: visibility-true,
// expanding Media/PropertyRooms/PropertyUnitTypes, upserting the listing
// plus its child collections and media metadata, then indexing it.
func NewListingDriver(fetcher Fetcher, states SyncStateStore, store ListingStore, indexer ListingIndexer, originatingSystem string, batchSize, maxRecords int, log zerolog.Logger) *Driver {
	visible := true
	d := &Driver{
		Resource:          "Property",
		OriginatingSystem: originatingSystem,
		ODataResource:     "Property",
		Expand:            "Media,PropertyRooms,PropertyUnitTypes",
		Visibility:        &visible,
		BatchSize:         batchSize,
		MaxRecords:        maxRecords,
		SyncStates:        states,
		Fetcher:           fetcher,
		Log:               log,
	}
	d.Process = func(ctx context.Context, records []map[string]any) (time.Time, error) {
		var maxModified time.Time
		for _, rec := range records {
			listing, rooms, units, media := decodeListing(rec, originatingSystem)

			if err := store.UpsertListing(ctx, listing); err != nil {
				log.Error().Err(err).Str("listing_key", listing.ListingKey).Msg("upserting listing failed, skipping record")
				continue
			}
			if err := store.ReplaceRooms(ctx, listing.ListingKey, rooms); err != nil {
				log.Error().Err(err).Str("listing_key", listing.ListingKey).Msg("replacing rooms failed")
			}
			if err := store.ReplaceUnitTypes(ctx, listing.ListingKey, units); err != nil {
				log.Error().Err(err).Str("listing_key", listing.ListingKey).Msg("replacing unit types failed")
			}
			if len(media) > 0 {
				if err := store.UpsertMediaMetadata(ctx, media); err != nil {
					log.Error().Err(err).Str("listing_key", listing.ListingKey).Msg("upserting media metadata failed")
				}
			}
			if err := indexer.Upsert(ctx, listing); err != nil {
				log.Error().Err(err).Str("listing_key", listing.ListingKey).Msg("search upsert failed, DB state stands")
			}

			if listing.ModifiedAt.After(maxModified) {
				maxModified = listing.ModifiedAt
			}
		}
		return maxModified, nil
	}
	return d
}

func decodeListing(rec map[string]any, originatingSystem string) (model.Listing, []model.Room, []model.UnitType, []model.MediaAsset) {
	raw, _ := json.Marshal(rec)

	l := model.Listing{
		ListingKey:      str(rec, "ListingKey"),
		OriginatingSys:  originatingSystem,
		StandardStatus:  str(rec, "StandardStatus"),
		ListPrice:       intField(rec, "ListPrice"),
		OriginalPrice:   intField(rec, "OriginalListPrice"),
		BedroomsTotal:   intField(rec, "BedroomsTotal"),
		BathroomsTotal:  intField(rec, "BathroomsTotalInteger"),
		LivingArea:      intField(rec, "LivingArea"),
		PropertyType:    str(rec, "PropertyType"),
		PropertySubType: str(rec, "PropertySubType"),
		City:            str(rec, "City"),
		StateOrProvince: str(rec, "StateOrProvince"),
		PostalCode:      str(rec, "PostalCode"),
		County:          str(rec, "CountyOrParish"),
		UnparsedAddress: str(rec, "UnparsedAddress"),
		StreetName:      str(rec, "StreetName"),
		Subdivision:     str(rec, "SubdivisionName"),
		PublicRemarks:   str(rec, "PublicRemarks"),
		Schools:         str(rec, "ElementarySchool"),
		Latitude:        floatField(rec, "Latitude"),
		Longitude:       floatField(rec, "Longitude"),
		YearBuilt:       intField(rec, "YearBuilt"),
		LotSizeSqFt:     intField(rec, "LotSizeSquareFeet"),
		GarageSpaces:    intField(rec, "GarageSpaces"),
		ParkingTotal:    intField(rec, "ParkingTotal"),
		Features:        stringSlice(rec, "InteriorFeatures"),
		PermittedUse:    stringSlice(rec, "PermittedUse"),
		Visible:         boolField(rec, "MlgCanView"),
		ModifiedAt:      timeField(rec, "ModificationTimestamp"),
		PhotosChangedAt: timeField(rec, "PhotosChangeTimestamp"),
		OriginalEntryAt: timeField(rec, "OriginalEntryTimestamp"),
		PriceChangedAt:  timeField(rec, "PriceChangeTimestamp"),
		MajorChangeAt:   timeField(rec, "MajorChangeTimestamp"),
		ListAgentMlsID:  str(rec, "ListAgentMlsId"),
		ListOfficeMlsID: str(rec, "ListOfficeMlsId"),
		Raw:             raw,
	}

	var rooms []model.Room
	for _, r := range mapSlice(rec, "PropertyRooms") {
		rooms = append(rooms, model.Room{
			ListingKey:  l.ListingKey,
			RoomType:    str(r, "RoomType"),
			Level:       str(r, "RoomLevel"),
			Length:      floatField(r, "RoomLength"),
			Width:       floatField(r, "RoomWidth"),
			Description: str(r, "RoomDescription"),
		})
	}

	var units []model.UnitType
	for _, u := range mapSlice(rec, "PropertyUnitTypes") {
		units = append(units, model.UnitType{
			ListingKey: l.ListingKey,
			UnitType:   str(u, "UnitTypeType"),
			Bedrooms:   intField(u, "UnitTypeBedsTotal"),
			Bathrooms:  intField(u, "UnitTypeBathsTotal"),
			Rent:       intField(u, "UnitTypeActualRent"),
			SquareFeet: intField(u, "UnitTypeSqft"),
		})
	}

	var media []model.MediaAsset
	for _, m := range mapSlice(rec, "Media") {
		category := model.MediaCategoryOther
		switch str(m, "MediaCategory") {
		case "Photo":
			category = model.MediaCategoryPhoto
		case "Video", "VirtualTour":
			category = model.MediaCategoryVideo
		}
		order := 0
		if o := intField(m, "Order"); o != nil {
			order = *o
		}
		asset := model.MediaAsset{
			MediaKey:         str(m, "MediaKey"),
			ListingKey:       l.ListingKey,
			Category:         category,
			Order:            order,
			UpstreamURL:      str(m, "MediaURL"),
			UpstreamModified: timeField(m, "MediaModificationTimestamp"),
			Width:            intField(m, "ImageWidth"),
			Height:           intField(m, "ImageHeight"),
		}
		media = append(media, asset)
	}

	return l, rooms, units, media
}

