package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"listings_sync/models"
)

// SQLiteStore holds the daemon's operational data: run history, run logs and
// the command queue an operator writes into.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		sync_type TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		reset BOOLEAN DEFAULT FALSE,
		properties_synced INTEGER DEFAULT 0,
		media_synced INTEGER DEFAULT 0,
		rooms_synced INTEGER DEFAULT 0,
		open_houses_synced INTEGER DEFAULT 0,
		child_failures INTEGER DEFAULT 0,
		cursor_timestamp TEXT DEFAULT '',
		cursor_key TEXT DEFAULT '',
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		sync_type TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON sync_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_type ON sync_runs(sync_type, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Runs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.SyncRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO sync_runs (sync_type, started_at, status, reset)
		VALUES (?, ?, ?, ?)`,
		run.SyncType, run.StartedAt, run.Status, run.Reset)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs SET finished_at = ?, status = ?, properties_synced = ?, media_synced = ?,
			rooms_synced = ?, open_houses_synced = ?, child_failures = ?,
			cursor_timestamp = ?, cursor_key = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.PropertiesSynced, run.MediaSynced,
		run.RoomsSynced, run.OpenHousesSynced, run.ChildFailures,
		run.CursorTimestamp, run.CursorKey, run.ErrorMessage, run.ID)
	return err
}

// ListRecentRuns returns the newest runs first. An empty syncType matches
// every feed.
func (s *SQLiteStore) ListRecentRuns(syncType models.SyncType, limit int) ([]models.SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, sync_type, started_at, finished_at, status, reset, properties_synced, media_synced,
			rooms_synced, open_houses_synced, child_failures, cursor_timestamp, cursor_key, error_message
		FROM sync_runs
		WHERE ? = '' OR sync_type = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, syncType, syncType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		var finished sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.SyncType, &r.StartedAt, &finished, &r.Status, &r.Reset,
			&r.PropertiesSynced, &r.MediaSynced, &r.RoomsSynced, &r.OpenHousesSynced, &r.ChildFailures,
			&r.CursorTimestamp, &r.CursorKey, &errMsg); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkInterruptedRuns fails runs left "running" by a process that died.
func (s *SQLiteStore) MarkInterruptedRuns() (int64, error) {
	result, err := s.db.Exec(`
		UPDATE sync_runs SET status = ?, finished_at = ?, error_message = 'interrupted'
		WHERE status = ?`, models.RunStatusFailed, time.Now(), models.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message string, syncType models.SyncType) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_logs (run_id, timestamp, level, message, sync_type)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, syncType)
	return err
}

func (s *SQLiteStore) GetRunLogs(runID int64) ([]models.SyncLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, sync_type
		FROM sync_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		var rid sql.NullInt64
		if err := rows.Scan(&l.ID, &rid, &l.Timestamp, &l.Level, &l.Message, &l.SyncType); err != nil {
			return nil, err
		}
		if rid.Valid {
			l.RunID = &rid.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw any
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return 0, fmt.Errorf("encode params: %w", err)
		}
		raw = string(b)
	}
	result, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processed); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = []byte(params.String)
		}
		if processed.Valid {
			cmd.ProcessedAt = &processed.Time
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, fmt.Errorf("parse params of command %d: %w", cmd.ID, err)
	}
	return &params, nil
}
