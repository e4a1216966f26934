package models

import "time"

// SyncType identifies one upstream feed.
type SyncType string

const (
	SyncTypeIDX SyncType = "idx"
	SyncTypeVOW SyncType = "vow"
)

// AllSyncTypes is the default order used when no type is requested.
var AllSyncTypes = []SyncType{SyncTypeIDX, SyncTypeVOW}

func ParseSyncType(s string) (SyncType, bool) {
	switch SyncType(s) {
	case SyncTypeIDX, SyncTypeVOW:
		return SyncType(s), true
	}
	return "", false
}

type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// Cursor is the resume point within a feed, ordered by
// (ModificationTimestamp, ListingKey). Timestamp is kept in the feed's own
// string form so it round-trips into filters unchanged.
type Cursor struct {
	Timestamp string `json:"timestamp"`
	Key       string `json:"key"`
}

func (c Cursor) Equal(o Cursor) bool {
	return c.Timestamp == o.Timestamp && c.Key == o.Key
}

func (c Cursor) IsZero() bool {
	return c.Timestamp == "" && c.Key == ""
}

// SyncState is the durable per-feed record of where the last run got to.
type SyncState struct {
	SyncType         SyncType   `json:"sync_type" db:"sync_type"`
	LastTimestamp    string     `json:"last_timestamp" db:"last_timestamp"`
	LastKey          string     `json:"last_key" db:"last_key"`
	Status           SyncStatus `json:"status" db:"status"`
	LastRunStarted   *time.Time `json:"last_run_started" db:"last_run_started"`
	LastRunCompleted *time.Time `json:"last_run_completed" db:"last_run_completed"`
	LastError        *string    `json:"last_error" db:"last_error"`
	RecordsProcessed int        `json:"records_processed" db:"records_processed"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

func (s *SyncState) Cursor() Cursor {
	return Cursor{Timestamp: s.LastTimestamp, Key: s.LastKey}
}

func (s *SyncState) SetCursor(c Cursor) {
	s.LastTimestamp = c.Timestamp
	s.LastKey = c.Key
}

// NewSyncState returns the state used for a feed that has never run.
func NewSyncState(t SyncType, start Cursor) *SyncState {
	return &SyncState{
		SyncType:      t,
		LastTimestamp: start.Timestamp,
		LastKey:       start.Key,
		Status:        SyncStatusIdle,
	}
}
