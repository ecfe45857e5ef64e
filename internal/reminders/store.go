package reminders

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store handles reminder and delivery persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a reminder store with SQLite backend.
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
	schema := `
	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		message TEXT NOT NULL,
		schedule_json TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		reminder_id TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		delivered_at TEXT,
		status TEXT NOT NULL,
		result TEXT,
		FOREIGN KEY (reminder_id) REFERENCES reminders(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_reminder ON deliveries(reminder_id);
	CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Create persists a new reminder.
func (s *Store) Create(r *Reminder) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = time.Now()

	scheduleJSON, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	enabled := 0
	if r.Enabled {
		enabled = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO reminders (id, name, chat_id, message, schedule_json, enabled, created_at, created_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.ChatID, r.Message, string(scheduleJSON), enabled,
		r.CreatedAt.Format(time.RFC3339Nano), r.CreatedBy, r.UpdatedAt.Format(time.RFC3339Nano))

	return err
}

// Get retrieves a reminder by ID.
func (s *Store) Get(id string) (*Reminder, error) {
	row := s.db.QueryRow(`
		SELECT id, name, chat_id, message, schedule_json, enabled, created_at, created_by, updated_at
		FROM reminders WHERE id = ?
	`, id)
	return scanReminder(row)
}

// List returns all reminders, optionally filtered by enabled status.
func (s *Store) List(enabledOnly bool) ([]*Reminder, error) {
	query := `SELECT id, name, chat_id, message, schedule_json, enabled, created_at, created_by, updated_at FROM reminders`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// ListForChat returns enabled reminders owned by a conversation.
func (s *Store) ListForChat(chatID string) ([]*Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, name, chat_id, message, schedule_json, enabled, created_at, created_by, updated_at
		FROM reminders WHERE chat_id = ? AND enabled = 1
		ORDER BY created_at DESC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// Update updates an existing reminder.
func (s *Store) Update(r *Reminder) error {
	r.UpdatedAt = time.Now()

	scheduleJSON, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	enabled := 0
	if r.Enabled {
		enabled = 1
	}

	_, err = s.db.Exec(`
		UPDATE reminders SET name = ?, chat_id = ?, message = ?, schedule_json = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.ChatID, r.Message, string(scheduleJSON), enabled,
		r.UpdatedAt.Format(time.RFC3339Nano), r.ID)

	return err
}

// Delete removes a reminder and its deliveries.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM deliveries WHERE reminder_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM reminders WHERE id = ?`, id)
	return err
}

// RecordDelivery inserts a delivery record.
func (s *Store) RecordDelivery(d *Delivery) error {
	if d.ID == "" {
		d.ID = NewID()
	}

	var deliveredAt *string
	if d.DeliveredAt != nil {
		v := d.DeliveredAt.Format(time.RFC3339Nano)
		deliveredAt = &v
	}

	_, err := s.db.Exec(`
		INSERT INTO deliveries (id, reminder_id, scheduled_at, delivered_at, status, result)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.ReminderID, d.ScheduledAt.Format(time.RFC3339Nano), deliveredAt, d.Status, d.Result)

	return err
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (*Reminder, error) {
	var r Reminder
	var scheduleJSON string
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.Name, &r.ChatID, &r.Message, &scheduleJSON, &enabled, &createdAt, &r.CreatedBy, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scheduleJSON), &r.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}

	r.Enabled = enabled == 1
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &r, nil
}
