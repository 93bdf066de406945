// Package storage provides SQLite-backed persistence for tables, outcomes and strategy state.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db                  *sql.DB
	maxOutcomesPerTable int
	now                 func() time.Time
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/wheelwatch/data.db.
func New(maxOutcomesPerTable int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "wheelwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxOutcomesPerTable: maxOutcomesPerTable, now: time.Now}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
			id           TEXT PRIMARY KEY,
			uuid         TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id          TEXT PRIMARY KEY,
			table_id    TEXT NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
			value       INTEGER NOT NULL CHECK (value BETWEEN 0 AND 36),
			color       TEXT NOT NULL,
			observed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_table_observed ON outcomes(table_id, observed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS strategy_state (
			table_id               TEXT PRIMARY KEY REFERENCES tables(id) ON DELETE CASCADE,
			state                  TEXT NOT NULL,
			trigger_value          INTEGER NOT NULL DEFAULT -1,
			previous_trigger_value INTEGER NOT NULL DEFAULT -1,
			terminals              TEXT NOT NULL DEFAULT '[]',
			previous_terminals     TEXT NOT NULL DEFAULT '[]',
			wins                   INTEGER NOT NULL DEFAULT 0,
			losses                 INTEGER NOT NULL DEFAULT 0,
			last_outcome           INTEGER NOT NULL DEFAULT -1,
			updated_at             INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			table_id      TEXT NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
			state         TEXT NOT NULL,
			trigger_value INTEGER NOT NULL,
			terminals     TEXT NOT NULL,
			wins          INTEGER NOT NULL,
			losses        INTEGER NOT NULL,
			recorded_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_history_table ON strategy_history(table_id, recorded_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// EnsureTable inserts the table row if missing and refreshes its display name.
func (s *Storage) EnsureTable(ctx context.Context, table models.Table) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("invalid table: %w", err)
	}
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tables (id, uuid, display_name, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at   = excluded.updated_at`,
		table.ID, models.TableUUID(table.ID).String(), table.Name(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure table %s: %w", table.ID, err)
	}
	return nil
}

// InsertOutcome stores an accepted outcome, creating the table row when needed.
func (s *Storage) InsertOutcome(ctx context.Context, table models.Table, o models.Outcome) error {
	if !models.ValidValue(o.Value) {
		return fmt.Errorf("invalid outcome value %d", o.Value)
	}
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (id, table_id, value, color, observed_at)
		VALUES (?,?,?,?,?)`,
		o.ID.String(), table.ID, o.Value, string(o.Color), o.ObservedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns up to limit values of tableID, most recent first.
func (s *Storage) RecentOutcomes(ctx context.Context, tableID string, limit int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM outcomes
		WHERE table_id = ?
		ORDER BY observed_at DESC, rowid DESC
		LIMIT ?`, tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	values := []int{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// UpsertStrategyState saves the current strategy state of a table and appends
// it to the strategy history.
func (s *Storage) UpsertStrategyState(ctx context.Context, table models.Table, st models.StrategyState) error {
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	terminals, err := marshalInts(st.Terminals)
	if err != nil {
		return err
	}
	previous, err := marshalInts(st.PreviousTerminals)
	if err != nil {
		return err
	}
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO strategy_state
			(table_id, state, trigger_value, previous_trigger_value, terminals,
			 previous_terminals, wins, losses, last_outcome, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		table.ID, string(st.State), st.TriggerValue, st.PreviousTriggerValue, terminals,
		previous, st.Wins, st.Losses, st.LastOutcome, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save strategy state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO strategy_history
			(table_id, state, trigger_value, terminals, wins, losses, recorded_at)
		VALUES (?,?,?,?,?,?,?)`,
		table.ID, string(st.State), st.TriggerValue, terminals, st.Wins, st.Losses, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record strategy history: %w", err)
	}

	return tx.Commit()
}

// LoadStrategyState returns the saved state of tableID, or nil if none exists.
func (s *Storage) LoadStrategyState(ctx context.Context, tableID string) (*models.StrategyState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateCols+` FROM strategy_state WHERE table_id = ?`, tableID)
	st, err := scanState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy state: %w", err)
	}
	return st, nil
}

// LoadStrategyStates returns every saved strategy state keyed by table id.
func (s *Storage) LoadStrategyStates(ctx context.Context) (map[string]models.StrategyState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateCols+` FROM strategy_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]models.StrategyState)
	for rows.Next() {
		st, err := scanState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy state: %w", err)
		}
		states[st.TableID] = *st
	}
	return states, rows.Err()
}

// HistoryEntry is one recorded strategy transition.
type HistoryEntry struct {
	State        models.State `json:"state"`
	TriggerValue int          `json:"trigger_value"`
	Terminals    []int        `json:"terminals"`
	Wins         int          `json:"wins"`
	Losses       int          `json:"losses"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

// StrategyHistory returns up to limit recorded transitions of tableID, newest first.
func (s *Storage) StrategyHistory(ctx context.Context, tableID string, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, trigger_value, terminals, wins, losses, recorded_at
		FROM strategy_history
		WHERE table_id = ?
		ORDER BY id DESC
		LIMIT ?`, tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var state, terminals string
		var recordedAtNano int64
		if err := rows.Scan(&state, &e.TriggerValue, &terminals, &e.Wins, &e.Losses, &recordedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan strategy history: %w", err)
		}
		e.State = models.State(state)
		if e.Terminals, err = unmarshalInts(terminals); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(0, recordedAtNano)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RotateOutcomes keeps at most maxOutcomesPerTable newest outcomes of every table.
func (s *Storage) RotateOutcomes(ctx context.Context) error {
	if s.maxOutcomesPerTable <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM outcomes WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY table_id ORDER BY observed_at DESC, rowid DESC
				) AS rn
				FROM outcomes
			) WHERE rn > ?
		)`, s.maxOutcomesPerTable)
	if err != nil {
		return fmt.Errorf("failed to rotate outcomes: %w", err)
	}
	return nil
}

const stateCols = `table_id, state, trigger_value, previous_trigger_value, terminals,
	previous_terminals, wins, losses, last_outcome`

func scanState(scan func(...any) error) (*models.StrategyState, error) {
	var st models.StrategyState
	var state, terminals, previous string
	err := scan(
		&st.TableID, &state, &st.TriggerValue, &st.PreviousTriggerValue, &terminals,
		&previous, &st.Wins, &st.Losses, &st.LastOutcome,
	)
	if err != nil {
		return nil, err
	}
	st.State = models.State(state)
	if st.Terminals, err = unmarshalInts(terminals); err != nil {
		return nil, err
	}
	if st.PreviousTerminals, err = unmarshalInts(previous); err != nil {
		return nil, err
	}
	return &st, nil
}

func marshalInts(vs []int) (string, error) {
	if vs == nil {
		vs = []int{}
	}
	b, err := json.Marshal(vs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal values: %w", err)
	}
	return string(b), nil
}

func unmarshalInts(s string) ([]int, error) {
	var vs []int
	if err := json.Unmarshal([]byte(s), &vs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}
	if len(vs) == 0 {
		return nil, nil
	}
	return vs, nil
}
