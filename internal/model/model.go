// Package model holds the entity shapes shared across the store, search,
// sync, and media packages. Structured fields mirror the upstream OData
// feed's columns; the raw upstream payload travels alongside them as an
// opaque JSON blob rather than being parsed field-by-field.
package model

import (
	"encoding/json"
	"time"
)

// MediaCategory distinguishes the asset kinds the media worker cares about.
type MediaCategory string

const (
	MediaCategoryPhoto MediaCategory = "Photo"
	MediaCategoryVideo MediaCategory = "Video"
	MediaCategoryOther MediaCategory = "Other"
)

// Listing is the structured projection of a Property record. ListingKey is
// the stable, globally unique identifier used everywhere else (media,
// rooms, unit types, open houses, the search index, object-store keys).
type Listing struct {
	ListingKey       string
	OriginatingSys   string
	StandardStatus   string
	ListPrice        *int
	OriginalPrice    *int
	BedroomsTotal    *int
	BathroomsTotal   *int
	LivingArea       *int
	PropertyType     string
	PropertySubType  string
	City             string
	StateOrProvince  string
	PostalCode       string
	County           string
	UnparsedAddress  string
	StreetName       string
	Subdivision      string
	PublicRemarks    string
	Schools          string
	Latitude         *float64
	Longitude        *float64
	YearBuilt        *int
	LotSizeSqFt      *int
	GarageSpaces     *int
	ParkingTotal     *int
	Features         []string
	PermittedUse     []string
	Visible          bool
	ModifiedAt       time.Time
	PhotosChangedAt  time.Time
	OriginalEntryAt  time.Time
	PriceChangedAt   time.Time
	MajorChangeAt    time.Time
	ListAgentMlsID   string
	ListOfficeMlsID  string
	Raw              json.RawMessage
}

// MediaAsset is a single photo/video/document attached to a listing.
type MediaAsset struct {
	MediaKey         string
	ListingKey       string
	Category         MediaCategory
	Order            int
	UpstreamURL      string
	UpstreamModified time.Time
	Width            *int
	Height           *int
	LocalURL         *string
}

// Room is a child row of a listing's PropertyRooms collection.
type Room struct {
	ListingKey  string
	RoomType    string
	Level       string
	Length      *float64
	Width       *float64
	Description string
}

// UnitType is a child row of a listing's PropertyUnitTypes collection.
type UnitType struct {
	ListingKey string
	UnitType   string
	Bedrooms   *int
	Bathrooms  *int
	Rent       *int
	SquareFeet *int
}

// OpenHouse is an append-only event row, de-duplicated per listing on
// (Start, End).
type OpenHouse struct {
	ListingKey string
	Start      time.Time
	End        time.Time
	Remarks    string
}

// Office and Member are independent dimensions, upserted on their own
// delta cycle and referenced from listings by key only.
type Office struct {
	OfficeMlsID string
	Name        string
	Phone       string
	Email       string
	Address     string
	ModifiedAt  time.Time
	Raw         json.RawMessage
}

type Member struct {
	MemberMlsID string
	FullName    string
	Email       string
	Phone       string
	OfficeMlsID string
	ModifiedAt  time.Time
	Raw         json.RawMessage
}

// ProgressSample is one row of the periodic aggregate snapshot.
type ProgressSample struct {
	ID                   string
	TakenAt              time.Time
	TotalListings        int
	ActiveListings       int
	TotalMedia           int
	HydratedMedia        int
	MissingMedia         int
	PercentHydrated      float64
	ListingsMissingMedia int
	DownloadsSinceLast   int
	APICooldownActive    bool
	MediaCooldownActive  bool
}

// RateLimitEvent records a single upstream rejection for diagnostics.
type RateLimitEvent struct {
	ID         string
	ListingKey string
	Source     string // "api" | "media"
	OccurredAt time.Time
}

// ProblematicListing is the quarantine state for a chronic-offender listing.
type ProblematicListing struct {
	ListingKey       string
	ConsecutiveFails int
	CooldownUntil    time.Time
	LastHitAt        time.Time
}
