package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Caps holds the per-collection capacity limits the store enforces inside
// every insert.
type Caps struct {
	MessagesPerChat    int
	Contacts           int
	Tickets            int
	OutboxPerRecipient int
}

// DefaultCaps returns the built-in capacity limits.
func DefaultCaps() Caps {
	return Caps{
		MessagesPerChat:    500,
		Contacts:           1000,
		Tickets:            200,
		OutboxPerRecipient: 100,
	}
}

// DB wraps a SQLite database connection for the profile-owned drift.db.
type DB struct {
	*sql.DB
	caps Caps
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Zero fields in caps fall back to DefaultCaps.
func Open(path string, caps Caps) (*DB, error) {
	def := DefaultCaps()
	if caps.MessagesPerChat <= 0 {
		caps.MessagesPerChat = def.MessagesPerChat
	}
	if caps.Contacts <= 0 {
		caps.Contacts = def.Contacts
	}
	if caps.Tickets <= 0 {
		caps.Tickets = def.Tickets
	}
	if caps.OutboxPerRecipient <= 0 {
		caps.OutboxPerRecipient = def.OutboxPerRecipient
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, caps: caps}, nil
}

// Caps returns the capacity limits this store enforces.
func (db *DB) Caps() Caps {
	return db.caps
}
