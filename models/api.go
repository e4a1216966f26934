package models

import "time"

// PropertySearchParams are the accepted filters for property search.
type PropertySearchParams struct {
	City         string   `json:"city" validate:"omitempty,max=100"`
	Status       string   `json:"status" validate:"omitempty,max=50"`
	PropertyType string   `json:"property_type" validate:"omitempty,max=100"`
	MinPrice     *float64 `json:"min_price" validate:"omitempty,gte=0"`
	MaxPrice     *float64 `json:"max_price" validate:"omitempty,gte=0"`
	MinBeds      *int     `json:"min_beds" validate:"omitempty,gte=0,lte=50"`
	Limit        int      `json:"limit" validate:"gte=1,lte=200"`
	Offset       int      `json:"offset" validate:"gte=0"`
}

// PropertySummary is one row of the search view.
type PropertySummary struct {
	ListingKey            string     `json:"listing_key"`
	UnparsedAddress       *string    `json:"unparsed_address"`
	City                  *string    `json:"city"`
	StandardStatus        *string    `json:"standard_status"`
	PropertyType          *string    `json:"property_type"`
	ListPrice             *float64   `json:"list_price"`
	BedroomsTotal         *float64   `json:"bedrooms_total"`
	BathroomsTotal        *float64   `json:"bathrooms_total"`
	Latitude              *float64   `json:"latitude"`
	Longitude             *float64   `json:"longitude"`
	ModificationTimestamp *time.Time `json:"modification_timestamp"`
	PrimaryPhotoURL       *string    `json:"primary_photo_url"`
}

type PropertySearchResult struct {
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	Properties []PropertySummary `json:"properties"`
}

// PropertyDetail is a property with its child records.
type PropertyDetail struct {
	Property   Record   `json:"property"`
	Media      []Record `json:"media"`
	Rooms      []Record `json:"rooms"`
	OpenHouses []Record `json:"open_houses"`
}

// PropertyHistory is every period and price event recorded for an address.
type PropertyHistory struct {
	ListingKey   string          `json:"listing_key"`
	AddressKey   string          `json:"address_key"`
	Periods      []ListingPeriod `json:"periods"`
	PriceChanges []PriceChange   `json:"price_changes"`
}
