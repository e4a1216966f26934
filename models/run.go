package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun is the operational record of one RunSync invocation.
type SyncRun struct {
	ID               int64      `json:"id" db:"id"`
	SyncType         SyncType   `json:"sync_type" db:"sync_type"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time `json:"finished_at" db:"finished_at"`
	Status           RunStatus  `json:"status" db:"status"`
	Reset            bool       `json:"reset" db:"reset"`
	PropertiesSynced int        `json:"properties_synced" db:"properties_synced"`
	MediaSynced      int        `json:"media_synced" db:"media_synced"`
	RoomsSynced      int        `json:"rooms_synced" db:"rooms_synced"`
	OpenHousesSynced int        `json:"open_houses_synced" db:"open_houses_synced"`
	ChildFailures    int        `json:"child_failures" db:"child_failures"`
	CursorTimestamp  string     `json:"cursor_timestamp" db:"cursor_timestamp"`
	CursorKey        string     `json:"cursor_key" db:"cursor_key"`
	ErrorMessage     *string    `json:"error_message" db:"error_message"`
}
