// Package search keeps a single Meilisearch index in sync with the
// relational store's Listing rows: idempotent index configuration,
// per-listing upsert, and delete. The attribute sets mirror the teacher's
// flat, always-safe-to-rerun configuration style even though the teacher
// itself has no search surface — there is no in-pack example wired to
// Meilisearch, so this package is grounded on the SDK's own documented
// shape rather than a retrieved file (see DESIGN.md).
package search

import (
	"context"
	"fmt"

	"github.com/meilisearch/meilisearch-go"

	"github.com/rennietech/mls-sync-core/internal/model"
)

var searchableAttributes = []string{
	"listing_key", "id", "unparsed_address", "street_name", "city",
	"postal_code", "subdivision", "public_remarks", "schools",
}

var filterableAttributes = []string{
	"visible", "standard_status", "property_type", "property_sub_type",
	"city", "state_or_province", "postal_code", "county",
	"list_price", "original_price", "bedrooms_total", "bathrooms_total",
	"living_area", "year_built", "lot_size_sqft", "garage_spaces",
	"parking_total", "features",
}

var sortableAttributes = []string{
	"list_price", "modified_at_ms", "original_entry_ms", "bedrooms_total",
	"bathrooms_total", "living_area", "year_built", "lot_size_sqft",
}

// Indexer wraps one Meilisearch index, scoped to a single originating
// system.
type Indexer struct {
	client    meilisearch.ServiceManager
	indexName string
}

func New(endpoint, masterKey, indexName string) *Indexer {
	client := meilisearch.New(endpoint, meilisearch.WithAPIKey(masterKey))
	return &Indexer{client: client, indexName: indexName}
}

// EnsureIndex creates the index if absent, always refreshes the searchable
// attribute list, and only populates filterable/sortable attributes the
// first time (an operator may have since customized them).
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	if _, err := ix.client.GetIndex(ix.indexName); err != nil {
		task, createErr := ix.client.CreateIndex(&meilisearch.IndexConfig{
			Uid:        ix.indexName,
			PrimaryKey: "listing_key",
		})
		if createErr != nil {
			return fmt.Errorf("creating index %s: %w", ix.indexName, createErr)
		}
		if _, err := ix.client.WaitForTask(task.TaskUID, meilisearch.WaitParams{}); err != nil {
			return fmt.Errorf("waiting for index %s creation: %w", ix.indexName, err)
		}
	}

	idx := ix.client.Index(ix.indexName)
	if _, err := idx.UpdateSearchableAttributes(&searchableAttributes); err != nil {
		return fmt.Errorf("updating searchable attributes: %w", err)
	}

	current, err := idx.GetFilterableAttributes()
	if err != nil {
		return fmt.Errorf("reading filterable attributes: %w", err)
	}
	if current == nil || len(*current) == 0 {
		if _, err := idx.UpdateFilterableAttributes(&filterableAttributes); err != nil {
			return fmt.Errorf("updating filterable attributes: %w", err)
		}
		if _, err := idx.UpdateSortableAttributes(&sortableAttributes); err != nil {
			return fmt.Errorf("updating sortable attributes: %w", err)
		}
	}
	return nil
}

// document is the flat projection of a Listing sent to the index. Only
// structured fields travel here; the raw blob never does.
type document struct {
	ListingKey      string         `json:"listing_key"`
	ID              string         `json:"id"`
	Visible         bool           `json:"visible"`
	StandardStatus  string         `json:"standard_status"`
	ListPrice       *int           `json:"list_price,omitempty"`
	OriginalPrice   *int           `json:"original_price,omitempty"`
	BedroomsTotal   *int           `json:"bedrooms_total,omitempty"`
	BathroomsTotal  *int           `json:"bathrooms_total,omitempty"`
	LivingArea      *int           `json:"living_area,omitempty"`
	PropertyType    string         `json:"property_type,omitempty"`
	PropertySubType string         `json:"property_sub_type,omitempty"`
	City            string         `json:"city,omitempty"`
	StateOrProvince string         `json:"state_or_province,omitempty"`
	PostalCode      string         `json:"postal_code,omitempty"`
	County          string         `json:"county,omitempty"`
	UnparsedAddress string         `json:"unparsed_address,omitempty"`
	StreetName      string         `json:"street_name,omitempty"`
	Subdivision     string         `json:"subdivision,omitempty"`
	PublicRemarks   string         `json:"public_remarks,omitempty"`
	Schools         string         `json:"schools,omitempty"`
	YearBuilt       *int           `json:"year_built,omitempty"`
	LotSizeSqFt     *int           `json:"lot_size_sqft,omitempty"`
	GarageSpaces    *int           `json:"garage_spaces,omitempty"`
	ParkingTotal    *int           `json:"parking_total,omitempty"`
	Features        []string       `json:"features,omitempty"`
	ModifiedAtMs    int64          `json:"modified_at_ms"`
	OriginalEntryMs int64          `json:"original_entry_ms,omitempty"`
	Geo             map[string]any `json:"_geo,omitempty"`
}

// Upsert projects a Listing into the index. Meilisearch's addDocuments
// with a primary key performs an upsert, so there is no separate update
// path.
func (ix *Indexer) Upsert(ctx context.Context, l model.Listing) error {
	doc := document{
		ListingKey:      l.ListingKey,
		ID:              l.ListingKey,
		Visible:         l.Visible,
		StandardStatus:  l.StandardStatus,
		ListPrice:       l.ListPrice,
		OriginalPrice:   l.OriginalPrice,
		BedroomsTotal:   l.BedroomsTotal,
		BathroomsTotal:  l.BathroomsTotal,
		LivingArea:      l.LivingArea,
		PropertyType:    l.PropertyType,
		PropertySubType: l.PropertySubType,
		City:            l.City,
		StateOrProvince: l.StateOrProvince,
		PostalCode:      l.PostalCode,
		County:          l.County,
		UnparsedAddress: l.UnparsedAddress,
		StreetName:      l.StreetName,
		Subdivision:     l.Subdivision,
		PublicRemarks:   l.PublicRemarks,
		Schools:         l.Schools,
		YearBuilt:       l.YearBuilt,
		LotSizeSqFt:     l.LotSizeSqFt,
		GarageSpaces:    l.GarageSpaces,
		ParkingTotal:    l.ParkingTotal,
		Features:        l.Features,
		ModifiedAtMs:    l.ModifiedAt.UnixMilli(),
	}
	if !l.OriginalEntryAt.IsZero() {
		doc.OriginalEntryMs = l.OriginalEntryAt.UnixMilli()
	}
	if l.Latitude != nil && l.Longitude != nil {
		doc.Geo = map[string]any{"lat": *l.Latitude, "lng": *l.Longitude}
	}

	idx := ix.client.Index(ix.indexName)
	if _, err := idx.AddDocuments([]document{doc}, nil); err != nil {
		return fmt.Errorf("upserting document %s: %w", l.ListingKey, err)
	}
	return nil
}

// Delete removes a listing's document.
func (ix *Indexer) Delete(ctx context.Context, listingKey string) error {
	idx := ix.client.Index(ix.indexName)
	if _, err := idx.DeleteDocument(listingKey); err != nil {
		return fmt.Errorf("deleting document %s: %w", listingKey, err)
	}
	return nil
}

// DeleteAll clears every document in the index, used by Reset.Run.
func (ix *Indexer) DeleteAll(ctx context.Context) error {
	idx := ix.client.Index(ix.indexName)
	if _, err := idx.DeleteAllDocuments(); err != nil {
		return fmt.Errorf("clearing index %s: %w", ix.indexName, err)
	}
	return nil
}
