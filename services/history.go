package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"listings_sync/identity"
	"listings_sync/mapper"
	"listings_sync/models"
)

var (
	ErrMissingListingKey = errors.New("listing key missing")
	ErrNoStartDate       = errors.New("no valid start date")
)

// HistoryStore persists derived listing history.
type HistoryStore interface {
	UpsertListingHistoryFields(ctx context.Context, f *models.ListingHistoryFields) error
	GetListingHistoryFields(ctx context.Context, listingKey string) (*models.ListingHistoryFields, error)
	UpsertListingPeriod(ctx context.Context, p *models.ListingPeriod) error
	GetListingPeriod(ctx context.Context, listingKey string) (*models.ListingPeriod, error)
	CurrentListingPeriodForAddress(ctx context.Context, addressKey string) (*models.ListingPeriod, error)
	UpsertPriceChange(ctx context.Context, pc *models.PriceChange) error
}

// StatusRule maps a keyword found in an upstream status string to a period
// status.
type StatusRule struct {
	Keyword string
	Status  models.PeriodStatus
}

// StatusRules are evaluated in order against the lowercased status string;
// the first rule whose keyword is a substring wins. No match means Active.
var StatusRules = []StatusRule{
	{"sold", models.PeriodSold},
	{"leased", models.PeriodLeased},
	{"terminated", models.PeriodTerminated},
	{"expired", models.PeriodExpired},
	{"suspended", models.PeriodSuspended},
	{"withdrawn", models.PeriodWithdrawn},
	{"cancelled", models.PeriodCancelled},
	{"canceled", models.PeriodCancelled},
}

// ClassifyStatus normalizes a free-text upstream status.
func ClassifyStatus(status string) models.PeriodStatus {
	s := strings.ToLower(status)
	for _, rule := range StatusRules {
		if strings.Contains(s, rule.Keyword) {
			return rule.Status
		}
	}
	return models.PeriodActive
}

// endDateFields lists, per terminal status, the payload fields that may hold
// the period's end date, in preference order.
var endDateFields = map[models.PeriodStatus][]string{
	models.PeriodSold:       {"CloseDate"},
	models.PeriodLeased:     {"CloseDate"},
	models.PeriodTerminated: {"TerminatedDate", "TerminatedEntryTimestamp"},
	models.PeriodExpired:    {"ExpirationDate"},
	models.PeriodSuspended:  {"SuspendedDate", "SuspendedEntryTimestamp"},
	models.PeriodWithdrawn:  {"UnavailableDate", "ModificationTimestamp"},
	models.PeriodCancelled:  {"UnavailableDate", "ModificationTimestamp"},
}

// HistoryResult reports what one derivation wrote.
type HistoryResult struct {
	HintsStored  bool
	Period       *models.ListingPeriod
	PriceChanges []models.PriceChange
	Skipped      string
}

type HistoryService struct {
	store HistoryStore
}

func NewHistoryService(store HistoryStore) *HistoryService {
	return &HistoryService{store: store}
}

// ProcessPropertyListingHistory derives the listing period and price events
// for one raw property payload. It is idempotent: repeating a call with the
// same payload leaves the same rows behind.
func (s *HistoryService) ProcessPropertyListingHistory(ctx context.Context, raw models.RawRecord) (*HistoryResult, error) {
	listingKey := mapper.String(raw["ListingKey"])
	if listingKey == "" {
		return nil, ErrMissingListingKey
	}

	result := &HistoryResult{}

	hints, stored, err := s.syncHints(ctx, listingKey, raw)
	if err != nil {
		return nil, err
	}
	result.HintsStored = stored

	period, err := buildPeriod(listingKey, raw, hints)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertListingPeriod(ctx, period); err != nil {
		return nil, fmt.Errorf("upsert listing period: %w", err)
	}
	result.Period = period

	changes, skipped, err := s.trackPriceChanges(ctx, listingKey, raw, hints)
	if err != nil {
		return result, err
	}
	result.PriceChanges = changes
	result.Skipped = skipped

	return result, nil
}

// syncHints stores any hint fields present in the payload and returns the
// stored row merged with the payload, the stored row taking precedence.
func (s *HistoryService) syncHints(ctx context.Context, listingKey string, raw models.RawRecord) (*models.ListingHistoryFields, bool, error) {
	incoming := extractHints(listingKey, raw)

	stored := false
	if !incoming.Empty() {
		if err := s.store.UpsertListingHistoryFields(ctx, incoming); err != nil {
			return nil, false, fmt.Errorf("upsert history fields: %w", err)
		}
		stored = true
	}

	existing, err := s.store.GetListingHistoryFields(ctx, listingKey)
	if err != nil {
		return nil, stored, fmt.Errorf("get history fields: %w", err)
	}
	if existing == nil {
		return incoming, stored, nil
	}

	merged := *existing
	merged.ListingKey = listingKey
	merged.Merge(incoming)
	return &merged, stored, nil
}

func extractHints(listingKey string, raw models.RawRecord) *models.ListingHistoryFields {
	return &models.ListingHistoryFields{
		ListingKey:                 listingKey,
		OriginalListPrice:          mapper.Float(raw["OriginalListPrice"]),
		PreviousListPrice:          mapper.Float(raw["PreviousListPrice"]),
		PriceChangeTimestamp:       mapper.TimePtr(raw["PriceChangeTimestamp"]),
		BackOnMarketEntryTimestamp: mapper.TimePtr(raw["BackOnMarketEntryTimestamp"]),
		OriginalEntryTimestamp:     mapper.TimePtr(raw["OriginalEntryTimestamp"]),
		TerminatedEntryTimestamp:   mapper.TimePtr(raw["TerminatedEntryTimestamp"]),
		SuspendedEntryTimestamp:    mapper.TimePtr(raw["SuspendedEntryTimestamp"]),
	}
}

// upstreamStatus picks the most specific status string in the payload.
func upstreamStatus(raw models.RawRecord) string {
	for _, field := range []string{"MlsStatus", "StandardStatus", "ContractStatus"} {
		if s := mapper.String(raw[field]); s != "" {
			return s
		}
	}
	return ""
}

// entryDate is where an on-market interval begins: a relist date, then the
// original entry, then the last modification, then the contract date.
func entryDate(raw models.RawRecord, hints *models.ListingHistoryFields) (time.Time, bool) {
	if hints.BackOnMarketEntryTimestamp != nil {
		return *hints.BackOnMarketEntryTimestamp, true
	}
	if hints.OriginalEntryTimestamp != nil {
		return *hints.OriginalEntryTimestamp, true
	}
	if t, ok := mapper.Time(raw["ModificationTimestamp"]); ok {
		return t, true
	}
	return mapper.Time(raw["ListingContractDate"])
}

func endDate(status models.PeriodStatus, raw models.RawRecord, hints *models.ListingHistoryFields, start time.Time) *time.Time {
	if !status.Terminal() {
		return nil
	}
	for _, field := range endDateFields[status] {
		if t, ok := mapper.Time(raw[field]); ok {
			return &t
		}
		switch field {
		case "TerminatedEntryTimestamp":
			if hints.TerminatedEntryTimestamp != nil {
				t := *hints.TerminatedEntryTimestamp
				return &t
			}
		case "SuspendedEntryTimestamp":
			if hints.SuspendedEntryTimestamp != nil {
				t := *hints.SuspendedEntryTimestamp
				return &t
			}
		}
	}
	if t, ok := mapper.Time(raw["ModificationTimestamp"]); ok {
		return &t
	}
	t := start
	return &t
}

func buildPeriod(listingKey string, raw models.RawRecord, hints *models.ListingHistoryFields) (*models.ListingPeriod, error) {
	start, ok := entryDate(raw, hints)
	if !ok {
		return nil, ErrNoStartDate
	}

	address := mapper.String(raw["UnparsedAddress"])
	status := ClassifyStatus(upstreamStatus(raw))
	listPrice := mapper.Float(raw["ListPrice"])

	period := &models.ListingPeriod{
		ListingKey:      listingKey,
		UnparsedAddress: address,
		AddressKey:      identity.AddressKey(address),
		DateStart:       start,
		DateEnd:         endDate(status, raw, hints, start),
		Status:          status,
		InitialPrice:    firstFloat(hints.OriginalListPrice, listPrice),
		FinalPrice:      listPrice,
		CloseDate:       mapper.TimePtr(raw["CloseDate"]),
	}
	if status.Closed() {
		period.SoldPrice = mapper.Float(raw["ClosePrice"])
	}
	return period, nil
}

// trackPriceChanges records price events for the period just upserted, but
// only while that period is the address's current one. Updates that arrive
// for a superseded period are skipped.
func (s *HistoryService) trackPriceChanges(ctx context.Context, listingKey string, raw models.RawRecord, hints *models.ListingHistoryFields) ([]models.PriceChange, string, error) {
	period, err := s.store.GetListingPeriod(ctx, listingKey)
	if err != nil {
		return nil, "", fmt.Errorf("get listing period: %w", err)
	}
	if period == nil {
		return nil, "no listing period", nil
	}

	if period.AddressKey != "" {
		current, err := s.store.CurrentListingPeriodForAddress(ctx, period.AddressKey)
		if err != nil {
			return nil, "", fmt.Errorf("current listing period: %w", err)
		}
		if current != nil && current.ListingKey != listingKey {
			log.Info().
				Str("listing_key", listingKey).
				Str("current_listing_key", current.ListingKey).
				Msg("Skipping price change for superseded listing period")
			return nil, "superseded period", nil
		}
	}

	var events []models.PriceChange
	listPrice := mapper.Float(raw["ListPrice"])

	// Initial listing event.
	entry := hints.BackOnMarketEntryTimestamp
	if entry == nil {
		entry = hints.OriginalEntryTimestamp
	}
	if entry != nil {
		events = append(events, models.PriceChange{
			ListingKey: listingKey,
			ChangeDate: *entry,
			Price:      firstFloat(hints.OriginalListPrice, listPrice),
			EventType:  models.EventListed,
		})
	}

	// Explicit price change.
	if hints.PriceChangeTimestamp != nil && hints.PreviousListPrice != nil {
		pct := ChangePercent(listPrice, hints.PreviousListPrice)
		events = append(events, models.PriceChange{
			ListingKey:    listingKey,
			ChangeDate:    *hints.PriceChangeTimestamp,
			Price:         listPrice,
			PreviousPrice: hints.PreviousListPrice,
			ChangePercent: pct,
			EventType:     EventTypeFor(pct),
		})
	}

	for i := range events {
		events[i].UnparsedAddress = period.UnparsedAddress
		events[i].AddressKey = period.AddressKey
		if err := s.store.UpsertPriceChange(ctx, &events[i]); err != nil {
			return nil, "", fmt.Errorf("upsert price change: %w", err)
		}
	}
	if len(events) == 0 {
		return nil, "no price event", nil
	}
	return events, "", nil
}

// ChangePercent is (current-previous)/previous*100 rounded to two places, or
// nil when either price is missing or previous is zero.
func ChangePercent(current, previous *float64) *float64 {
	if current == nil || previous == nil || *previous == 0 {
		return nil
	}
	pct := math.Round((*current-*previous) / *previous * 100 * 100) / 100
	return &pct
}

func EventTypeFor(pct *float64) models.PriceEventType {
	switch {
	case pct == nil || *pct == 0:
		return models.EventListed
	case *pct < 0:
		return models.EventPriceReduced
	default:
		return models.EventPriceIncreased
	}
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
