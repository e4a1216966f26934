package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdSyncNow   CommandType = "sync_now"
	CmdSyncType  CommandType = "sync_type"
	CmdResetSync CommandType = "reset_sync"
	CmdRunMedia  CommandType = "run_media"
	CmdPause     CommandType = "pause"
	CmdResume    CommandType = "resume"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	SyncType string `json:"sync_type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}
