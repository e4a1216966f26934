package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listings_sync/models"
)

type memHistoryStore struct {
	mu      sync.Mutex
	hints   map[string]models.ListingHistoryFields
	periods map[string]models.ListingPeriod
	changes map[string]models.PriceChange
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{
		hints:   make(map[string]models.ListingHistoryFields),
		periods: make(map[string]models.ListingPeriod),
		changes: make(map[string]models.PriceChange),
	}
}

func (m *memHistoryStore) UpsertListingHistoryFields(_ context.Context, f *models.ListingHistoryFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := *f
	if old, ok := m.hints[f.ListingKey]; ok {
		merged.Merge(&old)
	}
	m.hints[f.ListingKey] = merged
	return nil
}

func (m *memHistoryStore) GetListingHistoryFields(_ context.Context, key string) (*models.ListingHistoryFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.hints[key]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *memHistoryStore) UpsertListingPeriod(_ context.Context, p *models.ListingPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[p.ListingKey] = *p
	return nil
}

func (m *memHistoryStore) GetListingPeriod(_ context.Context, key string) (*models.ListingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memHistoryStore) CurrentListingPeriodForAddress(_ context.Context, addressKey string) (*models.ListingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current *models.ListingPeriod
	for _, p := range m.periods {
		if p.AddressKey != addressKey {
			continue
		}
		if current == nil || p.DateStart.After(current.DateStart) ||
			(p.DateStart.Equal(current.DateStart) && p.ListingKey > current.ListingKey) {
			cp := p
			current = &cp
		}
	}
	return current, nil
}

func (m *memHistoryStore) UpsertPriceChange(_ context.Context, pc *models.PriceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes[pc.ListingKey+"|"+pc.ChangeDate.UTC().Format(time.RFC3339Nano)] = *pc
	return nil
}

func (m *memHistoryStore) changeList() []models.PriceChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PriceChange, 0, len(m.changes))
	for _, c := range m.changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangeDate.Before(out[j].ChangeDate) })
	return out
}

func TestClassifyStatus(t *testing.T) {
	cases := map[string]models.PeriodStatus{
		"Sold Conditional":    models.PeriodSold,
		"Active":              models.PeriodActive,
		"LEASED":              models.PeriodLeased,
		"Terminated":          models.PeriodTerminated,
		"Expired":             models.PeriodExpired,
		"Suspended":           models.PeriodSuspended,
		"Withdrawn":           models.PeriodWithdrawn,
		"Cancelled":           models.PeriodCancelled,
		"Canceled":            models.PeriodCancelled,
		"":                    models.PeriodActive,
		"Sold - Then Expired": models.PeriodSold,
		"Price Change":        models.PeriodActive,
	}
	for in, want := range cases {
		assert.Equal(t, want, ClassifyStatus(in), in)
	}
}

func TestChangePercent(t *testing.T) {
	prev, cur := 500000.0, 475000.0
	pct := ChangePercent(&cur, &prev)
	require.NotNil(t, pct)
	assert.Equal(t, -5.0, *pct)
	assert.Equal(t, models.EventPriceReduced, EventTypeFor(pct))

	up := 525000.0
	assert.Equal(t, models.EventPriceIncreased, EventTypeFor(ChangePercent(&up, &prev)))
	assert.Equal(t, models.EventListed, EventTypeFor(ChangePercent(&prev, &prev)))
	assert.Nil(t, ChangePercent(&cur, nil))

	zero := 0.0
	assert.Nil(t, ChangePercent(&cur, &zero))

	third := 100.0
	odd := 66.666
	assert.Equal(t, -33.33, *ChangePercent(&odd, &third))
}

func TestActivePeriodHasNoEnd(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)

	res, err := svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":            "X100",
		"UnparsedAddress":       "12 King Street West, Toronto",
		"MlsStatus":             "Active",
		"ModificationTimestamp": "2024-05-01T10:00:00Z",
		"ListPrice":             899000.0,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Period)
	assert.Equal(t, models.PeriodActive, res.Period.Status)
	assert.Nil(t, res.Period.DateEnd)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), res.Period.DateStart)
	assert.False(t, res.HintsStored)
	assert.Empty(t, store.changeList())
}

func TestSoldPeriod(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)

	res, err := svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":             "X200",
		"UnparsedAddress":        "4 Elm Ave",
		"MlsStatus":              "Sold Conditional",
		"StandardStatus":         "Active Under Contract",
		"OriginalEntryTimestamp": "2024-01-10T09:00:00Z",
		"ModificationTimestamp":  "2024-03-02T12:00:00Z",
		"CloseDate":              "2024-03-01",
		"OriginalListPrice":      "700000",
		"ListPrice":              680000.0,
		"ClosePrice":             "672500",
	})
	require.NoError(t, err)

	p := res.Period
	assert.Equal(t, models.PeriodSold, p.Status)
	require.NotNil(t, p.DateEnd)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *p.DateEnd)
	assert.Equal(t, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), p.DateStart)
	assert.Equal(t, 700000.0, *p.InitialPrice)
	assert.Equal(t, 680000.0, *p.FinalPrice)
	assert.Equal(t, 672500.0, *p.SoldPrice)
	assert.True(t, res.HintsStored)
}

func TestTerminalStatusAlwaysHasEnd(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)

	// Expired with no ExpirationDate falls back to the modification timestamp.
	res, err := svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":            "X300",
		"StandardStatus":        "Expired",
		"ModificationTimestamp": "2024-02-02T00:00:00Z",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Period.DateEnd)
	assert.Equal(t, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), *res.Period.DateEnd)

	// Terminated prefers the stored terminated-entry hint over the fallback.
	res, err = svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":               "X301",
		"MlsStatus":                "Terminated",
		"ListingContractDate":      "2023-11-01",
		"TerminatedEntryTimestamp": "2024-01-15T08:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), res.Period.DateStart)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), *res.Period.DateEnd)
}

func TestNoStartDate(t *testing.T) {
	svc := NewHistoryService(newMemHistoryStore())

	_, err := svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":            "X400",
		"ModificationTimestamp": "not a date",
	})
	assert.ErrorIs(t, err, ErrNoStartDate)

	_, err = svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{})
	assert.ErrorIs(t, err, ErrMissingListingKey)
}

func TestPriceReducedEvent(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)

	_, err := svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":             "X500",
		"UnparsedAddress":        "9 Oak Rd",
		"StandardStatus":         "Active",
		"OriginalEntryTimestamp": "2024-04-01T00:00:00Z",
		"ModificationTimestamp":  "2024-04-20T00:00:00Z",
		"PriceChangeTimestamp":   "2024-04-20T00:00:00Z",
		"PreviousListPrice":      500000.0,
		"ListPrice":              475000.0,
	})
	require.NoError(t, err)

	changes := store.changeList()
	require.Len(t, changes, 2)

	listed := changes[0]
	assert.Equal(t, models.EventListed, listed.EventType)
	assert.Nil(t, listed.ChangePercent)
	assert.Nil(t, listed.PreviousPrice)
	assert.Equal(t, 475000.0, *listed.Price)

	reduced := changes[1]
	assert.Equal(t, models.EventPriceReduced, reduced.EventType)
	require.NotNil(t, reduced.ChangePercent)
	assert.Equal(t, -5.0, *reduced.ChangePercent)
	assert.Equal(t, 500000.0, *reduced.PreviousPrice)
}

func TestListedEventWithoutPreviousPrice(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)

	_, err := svc.ProcessPropertyListingHistory(context.Background(), models.RawRecord{
		"ListingKey":             "X600",
		"OriginalEntryTimestamp": "2024-06-01T00:00:00Z",
		"OriginalListPrice":      650000.0,
		"ListPrice":              650000.0,
	})
	require.NoError(t, err)

	changes := store.changeList()
	require.Len(t, changes, 1)
	assert.Equal(t, models.EventListed, changes[0].EventType)
	assert.Nil(t, changes[0].ChangePercent)
}

func TestHistoryIdempotent(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)
	raw := models.RawRecord{
		"ListingKey":                 "X700",
		"UnparsedAddress":            "1 Bay St",
		"MlsStatus":                  "Active",
		"BackOnMarketEntryTimestamp": "2024-07-01T00:00:00Z",
		"PriceChangeTimestamp":       "2024-07-10T00:00:00Z",
		"PreviousListPrice":          "400000",
		"ListPrice":                  420000.0,
	}

	_, err := svc.ProcessPropertyListingHistory(context.Background(), raw)
	require.NoError(t, err)
	firstPeriods := len(store.periods)
	firstChanges := store.changeList()

	_, err = svc.ProcessPropertyListingHistory(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, firstPeriods, len(store.periods))
	assert.Equal(t, firstChanges, store.changeList())
	assert.Equal(t, models.EventPriceIncreased, firstChanges[1].EventType)
}

func TestStoredHintsSurviveSparsePayload(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)
	ctx := context.Background()

	_, err := svc.ProcessPropertyListingHistory(ctx, models.RawRecord{
		"ListingKey":             "X800",
		"OriginalEntryTimestamp": "2024-01-01T00:00:00Z",
		"OriginalListPrice":      300000.0,
		"ListPrice":              300000.0,
	})
	require.NoError(t, err)

	// The later payload omits the entry timestamp; the period keeps its start.
	res, err := svc.ProcessPropertyListingHistory(ctx, models.RawRecord{
		"ListingKey":            "X800",
		"ModificationTimestamp": "2024-03-01T00:00:00Z",
		"ListPrice":             290000.0,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), res.Period.DateStart)
	assert.Equal(t, 300000.0, *res.Period.InitialPrice)
	assert.Equal(t, 290000.0, *res.Period.FinalPrice)
}

func TestSupersededPeriodIgnoresLatePriceUpdate(t *testing.T) {
	store := newMemHistoryStore()
	svc := NewHistoryService(store)
	ctx := context.Background()

	old := models.RawRecord{
		"ListingKey":             "OLD1",
		"UnparsedAddress":        "77 Pine Cres",
		"MlsStatus":              "Expired",
		"OriginalEntryTimestamp": "2023-01-01T00:00:00Z",
		"ExpirationDate":         "2023-06-01",
		"ListPrice":              800000.0,
	}
	_, err := svc.ProcessPropertyListingHistory(ctx, old)
	require.NoError(t, err)

	_, err = svc.ProcessPropertyListingHistory(ctx, models.RawRecord{
		"ListingKey":             "NEW1",
		"UnparsedAddress":        "77 Pine Crescent",
		"MlsStatus":              "Active",
		"OriginalEntryTimestamp": "2024-02-01T00:00:00Z",
		"ListPrice":              780000.0,
	})
	require.NoError(t, err)
	before := len(store.changeList())

	late := models.RawRecord{}
	for k, v := range old {
		late[k] = v
	}
	late["PriceChangeTimestamp"] = "2023-05-01T00:00:00Z"
	late["PreviousListPrice"] = 820000.0

	res, err := svc.ProcessPropertyListingHistory(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, "superseded period", res.Skipped)
	assert.Len(t, store.changeList(), before)
}
