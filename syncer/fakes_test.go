package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"listings_sync/models"
	"listings_sync/services"
)

var errBoom = errors.New("boom")

// memFeed serves a fixed, ordered set of properties.
type memFeed struct {
	mu         sync.Mutex
	records    []models.RawRecord
	children   map[models.EntityType]func(parentKey string) ([]models.RawRecord, error)
	batchSizes []int
	fixed      models.RawRecord // when set, every batch returns just this record
}

func genRecords(n int) []models.RawRecord {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.RawRecord, n)
	for i := 0; i < n; i++ {
		// Three records per timestamp so the key tiebreak is exercised.
		ts := base.Add(time.Duration(i/3) * time.Second)
		out[i] = models.RawRecord{
			"ListingKey":            fmt.Sprintf("K%05d", i+1),
			"ModificationTimestamp": ts.Format(time.RFC3339),
			"UnparsedAddress":       fmt.Sprintf("%d Main St", i+1),
			"StandardStatus":        "Active",
			"ListPrice":             float64(500000 + i),
		}
	}
	return out
}

func (f *memFeed) TotalCount(_ context.Context, _ models.SyncType, cursor models.Cursor) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		c, _ := RecordCursor(r)
		if CursorAfter(c, cursor) {
			n++
		}
	}
	return n, nil
}

func (f *memFeed) FetchBatch(_ context.Context, _ models.SyncType, cursor models.Cursor, size int) ([]models.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchSizes = append(f.batchSizes, size)
	if f.fixed != nil {
		return []models.RawRecord{f.fixed}, nil
	}
	var out []models.RawRecord
	for _, r := range f.records {
		c, _ := RecordCursor(r)
		if CursorAfter(c, cursor) {
			out = append(out, r)
			if len(out) == size {
				break
			}
		}
	}
	return out, nil
}

func (f *memFeed) FetchChildren(_ context.Context, _ models.SyncType, parentKey string, entity models.EntityType) ([]models.RawRecord, error) {
	if fn := f.children[entity]; fn != nil {
		return fn(parentKey)
	}
	return nil, nil
}

// memStore keeps upserted records and sync state in memory.
type memStore struct {
	mu         sync.Mutex
	records    map[models.EntityType]map[string]models.Record
	states     map[models.SyncType]models.SyncState
	upserts    int
	failOn     func(entity models.EntityType, rec models.Record) error
	stateSaves int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[models.EntityType]map[string]models.Record),
		states:  make(map[models.SyncType]models.SyncState),
	}
}

func (s *memStore) Upsert(_ context.Context, entity models.EntityType, records []models.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[entity] == nil {
		s.records[entity] = make(map[string]models.Record)
	}
	for _, rec := range records {
		if s.failOn != nil {
			if err := s.failOn(entity, rec); err != nil {
				return 0, err
			}
		}
		s.upserts++
		s.records[entity][rec.String(entity.KeyField())] = rec
	}
	return len(records), nil
}

func (s *memStore) GetSyncState(_ context.Context, t models.SyncType) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[t]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) UpdateSyncState(_ context.Context, st *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateSaves++
	s.states[st.SyncType] = *st
	return nil
}

func (s *memStore) CompleteSyncState(_ context.Context, t models.SyncType, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[t]
	now := time.Now()
	st.Status = models.SyncStatusCompleted
	st.LastRunCompleted = &now
	st.RecordsProcessed = processed
	s.states[t] = st
	return nil
}

func (s *memStore) FailSyncState(_ context.Context, t models.SyncType, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[t]
	st.Status = models.SyncStatusFailed
	st.LastError = &message
	s.states[t] = st
	return nil
}

func (s *memStore) state(t models.SyncType) models.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[t]
}

func (s *memStore) count(entity models.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[entity])
}

type historyFunc func(ctx context.Context, raw models.RawRecord) (*services.HistoryResult, error)

func (f historyFunc) ProcessPropertyListingHistory(ctx context.Context, raw models.RawRecord) (*services.HistoryResult, error) {
	return f(ctx, raw)
}

type geocodeFunc func(ctx context.Context, listingKey string, record models.Record) error

func (f geocodeFunc) Geocode(ctx context.Context, listingKey string, record models.Record) error {
	return f(ctx, listingKey, record)
}

type memRecorder struct {
	mu   sync.Mutex
	runs []models.SyncRun
	logs []string
}

func (r *memRecorder) CreateRun(run *models.SyncRun) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return int64(len(r.runs)), nil
}

func (r *memRecorder) UpdateRun(run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID-1] = *run
	return nil
}

func (r *memRecorder) Log(_ *int64, _ models.LogLevel, message string, _ models.SyncType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, message)
	return nil
}
