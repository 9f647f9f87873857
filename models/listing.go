package models

import (
	"encoding/json"
	"time"
)

// Operation is the transaction type a listing is offered under.
type Operation string

const (
	OperationBuy  Operation = "comprar"
	OperationRent Operation = "arrendar"
)

// Listing is a property listing persisted in the listings table.
// ExternalID is the site-assigned identifier and the only upsert key;
// the row ID is never used to decide create-vs-update.
type Listing struct {
	ID         int64
	ExternalID int64
	ConcelhoID *int64

	Operation    Operation
	PropertyType string
	URL          string

	Title       *string
	Price       *int
	PricePerSqm *float64

	AreaGross  *float64
	AreaUseful *float64
	Typology   *string
	Bedrooms   *int
	Bathrooms  *int
	Floor      *string

	HasElevator        *bool
	HasGarage          *bool
	HasPool            *bool
	HasGarden          *bool
	HasTerrace         *bool
	HasBalcony         *bool
	HasAirConditioning *bool
	HasCentralHeating  *bool
	IsLuxury           *bool
	HasSeaView         *bool

	EnergyClass *string
	Condition   *string
	YearBuilt   *int

	Street       *string
	Neighborhood *string
	Parish       *string

	Description *string
	AgencyName  *string
	AgencyURL   *string
	Reference   *string

	Tags     *string
	ImageURL *string

	FirstSeen time.Time
	LastSeen  time.Time
	IsActive  bool

	RawData json.RawMessage
}

// ListingHistory is one append-only audit row recorded when a listing's
// price changes. Price holds the value before the change; Changes holds
// an old/new payload per changed field.
type ListingHistory struct {
	ID        int64
	ListingID int64
	Price     *int
	ScrapedAt time.Time
	Changes   json.RawMessage
}

// PriceChange is the payload serialized into ListingHistory.Changes.
type PriceChange struct {
	Old *int `json:"old"`
	New *int `json:"new"`
}
