// Package worklog persists per-worker execution history. The store is
// append-only: entries are never mutated, and pruning deletes whole
// rows oldest-first.
package worklog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry types. Request and Response bracket one task; Action records a
// tool invocation; ToolResponse records the tool's result.
const (
	EntryRequest      = "request"
	EntryAction       = "action"
	EntryToolResponse = "tool_response"
	EntryResponse     = "response"
)

// Entry is one history record for a worker.
type Entry struct {
	ID        int64             `json:"id,omitempty"`
	Type      string            `json:"entry_type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is a SQLite-backed history store keyed by worker name.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS worker_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_name TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			content     TEXT NOT NULL,
			metadata    TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_worker_history_worker
			ON worker_history(worker_name, created_at DESC, id DESC);
	`)
	return err
}

// SaveEntry inserts an entry for the named worker. A zero CreatedAt is
// assigned the current time; the row id supplies the insertion-order
// tiebreak for equal timestamps.
func (s *Store) SaveEntry(workerName string, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	metaJSON := ""
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(data)
	}

	res, err := s.db.Exec(`
		INSERT INTO worker_history (worker_name, entry_type, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, workerName, e.Type, e.Content, metaJSON, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	e.ID, _ = res.LastInsertId()
	return nil
}

// LoadHistory returns the most recent limit entries for a worker in
// chronological order. The query selects newest-first and the result
// is reversed, so the window always covers the tail of the history.
// A limit <= 0 uses the default of 50.
func (s *Store) LoadHistory(workerName string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, entry_type, content, metadata, created_at
		FROM worker_history
		WHERE worker_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, workerName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.Content, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListWorkerNames returns the distinct worker names with stored
// history.
func (s *Store) ListWorkerNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT worker_name FROM worker_history ORDER BY worker_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ClearHistory removes all entries for a worker.
func (s *Store) ClearHistory(workerName string) error {
	_, err := s.db.Exec(`DELETE FROM worker_history WHERE worker_name = ?`, workerName)
	return err
}

// Prune keeps only the most recent maxPerWorker entries for each
// worker and deletes the rest. Intended to run periodically, not on
// the hot path.
func (s *Store) Prune(maxPerWorker int) error {
	if maxPerWorker <= 0 {
		return fmt.Errorf("maxPerWorker must be positive")
	}

	names, err := s.ListWorkerNames()
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	for _, name := range names {
		_, err := s.db.Exec(`
			DELETE FROM worker_history
			WHERE worker_name = ? AND id NOT IN (
				SELECT id FROM worker_history
				WHERE worker_name = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
		`, name, name, maxPerWorker)
		if err != nil {
			return fmt.Errorf("prune %q: %w", name, err)
		}
	}
	return nil
}

// EntryCount returns the number of stored entries for a worker.
func (s *Store) EntryCount(workerName string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM worker_history WHERE worker_name = ?`, workerName).Scan(&count)
	return count, err
}
