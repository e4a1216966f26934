package models

import "time"

type PeriodStatus string

const (
	PeriodActive     PeriodStatus = "Active"
	PeriodSold       PeriodStatus = "Sold"
	PeriodLeased     PeriodStatus = "Leased"
	PeriodTerminated PeriodStatus = "Terminated"
	PeriodExpired    PeriodStatus = "Expired"
	PeriodSuspended  PeriodStatus = "Suspended"
	PeriodWithdrawn  PeriodStatus = "Withdrawn"
	PeriodCancelled  PeriodStatus = "Cancelled"
)

// Terminal reports whether a period in this status has ended.
func (s PeriodStatus) Terminal() bool {
	return s != PeriodActive && s != ""
}

// Closed reports whether the period ended in a transaction.
func (s PeriodStatus) Closed() bool {
	return s == PeriodSold || s == PeriodLeased
}

// ListingPeriod is one on-market interval of a listing.
// DateEnd is set if and only if Status is terminal.
type ListingPeriod struct {
	ListingKey      string       `json:"listing_key" db:"listing_key"`
	UnparsedAddress string       `json:"unparsed_address" db:"unparsed_address"`
	AddressKey      string       `json:"address_key" db:"address_key"`
	DateStart       time.Time    `json:"date_start" db:"date_start"`
	DateEnd         *time.Time   `json:"date_end" db:"date_end"`
	Status          PeriodStatus `json:"status" db:"status"`
	InitialPrice    *float64     `json:"initial_price" db:"initial_price"`
	FinalPrice      *float64     `json:"final_price" db:"final_price"`
	SoldPrice       *float64     `json:"sold_price" db:"sold_price"`
	CloseDate       *time.Time   `json:"close_date" db:"close_date"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

type PriceEventType string

const (
	EventListed         PriceEventType = "Listed"
	EventPriceReduced   PriceEventType = "Price Reduced"
	EventPriceIncreased PriceEventType = "Price Increased"
)

// PriceChange is one price event, unique on (ListingKey, ChangeDate).
type PriceChange struct {
	ListingKey      string         `json:"listing_key" db:"listing_key"`
	ChangeDate      time.Time      `json:"change_date" db:"change_date"`
	Price           *float64       `json:"price" db:"price"`
	PreviousPrice   *float64       `json:"previous_price" db:"previous_price"`
	ChangePercent   *float64       `json:"change_percent" db:"change_percent"`
	EventType       PriceEventType `json:"event_type" db:"event_type"`
	UnparsedAddress string         `json:"unparsed_address" db:"unparsed_address"`
	AddressKey      string         `json:"address_key" db:"address_key"`
}

// ListingHistoryFields are the price/status hints last seen for a listing.
type ListingHistoryFields struct {
	ListingKey                 string     `json:"listing_key" db:"listing_key"`
	OriginalListPrice          *float64   `json:"original_list_price" db:"original_list_price"`
	PreviousListPrice          *float64   `json:"previous_list_price" db:"previous_list_price"`
	PriceChangeTimestamp       *time.Time `json:"price_change_timestamp" db:"price_change_timestamp"`
	BackOnMarketEntryTimestamp *time.Time `json:"back_on_market_entry_timestamp" db:"back_on_market_entry_timestamp"`
	OriginalEntryTimestamp     *time.Time `json:"original_entry_timestamp" db:"original_entry_timestamp"`
	TerminatedEntryTimestamp   *time.Time `json:"terminated_entry_timestamp" db:"terminated_entry_timestamp"`
	SuspendedEntryTimestamp    *time.Time `json:"suspended_entry_timestamp" db:"suspended_entry_timestamp"`
}

// Empty reports whether no hint is present.
func (f *ListingHistoryFields) Empty() bool {
	return f.OriginalListPrice == nil && f.PreviousListPrice == nil &&
		f.PriceChangeTimestamp == nil && f.BackOnMarketEntryTimestamp == nil &&
		f.OriginalEntryTimestamp == nil && f.TerminatedEntryTimestamp == nil &&
		f.SuspendedEntryTimestamp == nil
}

// Merge fills nil fields of f from other.
func (f *ListingHistoryFields) Merge(other *ListingHistoryFields) {
	if other == nil {
		return
	}
	if f.OriginalListPrice == nil {
		f.OriginalListPrice = other.OriginalListPrice
	}
	if f.PreviousListPrice == nil {
		f.PreviousListPrice = other.PreviousListPrice
	}
	if f.PriceChangeTimestamp == nil {
		f.PriceChangeTimestamp = other.PriceChangeTimestamp
	}
	if f.BackOnMarketEntryTimestamp == nil {
		f.BackOnMarketEntryTimestamp = other.BackOnMarketEntryTimestamp
	}
	if f.OriginalEntryTimestamp == nil {
		f.OriginalEntryTimestamp = other.OriginalEntryTimestamp
	}
	if f.TerminatedEntryTimestamp == nil {
		f.TerminatedEntryTimestamp = other.TerminatedEntryTimestamp
	}
	if f.SuspendedEntryTimestamp == nil {
		f.SuspendedEntryTimestamp = other.SuspendedEntryTimestamp
	}
}
