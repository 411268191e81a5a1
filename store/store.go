// Package store persists runtime bot state to sqlite: module/command
// enabled toggles, per-user command cooldown stamps, and an audit log of
// delivered messages. All writes are best-effort; the bot runs fine with no
// store at all.
package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS module_state (
		name TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS command_usage (
		command TEXT NOT NULL,
		sender TEXT NOT NULL,
		used_at DATETIME NOT NULL,
		PRIMARY KEY (command, sender)
	);

	CREATE TABLE IF NOT EXISTS sent_messages (
		id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sent_messages_room ON sent_messages(room);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveModuleState upserts the enabled flag for a module or command name.
func (s *Store) SaveModuleState(name string, enabled bool) error {
	_, err := s.db.Exec(`
		INSERT INTO module_state (name, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		name, enabled, time.Now())
	return err
}

// ModuleStates returns every persisted enabled flag, keyed by name.
func (s *Store) ModuleStates() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT name, enabled FROM module_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		states[name] = enabled
	}
	return states, rows.Err()
}

// SaveCommandUse upserts the last authorized use of a command by a sender.
func (s *Store) SaveCommandUse(command, sender string, usedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO command_usage (command, sender, used_at) VALUES (?, ?, ?)
		ON CONFLICT(command, sender) DO UPDATE SET used_at = excluded.used_at`,
		command, sender, usedAt)
	return err
}

// CommandUsage returns the persisted cooldown stamps, keyed by command then
// sender.
func (s *Store) CommandUsage() (map[string]map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT command, sender, used_at FROM command_usage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[string]map[string]time.Time)
	for rows.Next() {
		var command, sender string
		var usedAt time.Time
		if err := rows.Scan(&command, &sender, &usedAt); err != nil {
			return nil, err
		}
		if usage[command] == nil {
			usage[command] = make(map[string]time.Time)
		}
		usage[command][sender] = usedAt
	}
	return usage, rows.Err()
}

// LogDelivery records one delivered outbound message.
func (s *Store) LogDelivery(id, room, text string, sentAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO sent_messages (id, room, content, sent_at) VALUES (?, ?, ?, ?)`,
		id, room, text, sentAt)
	return err
}
