package store

import (
	"database/sql"
	"time"

	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
)

// PutContact inserts or updates a contact. A malformed identity is rejected
// with a validation error before any write. At capacity, the single oldest
// contact by added_at is evicted before the insert.
func (db *DB) PutContact(c *Contact) error {
	id, err := identity.Canonical(c.Identity)
	if err != nil {
		return err
	}
	c.Identity = id
	if c.AddedAt == 0 {
		c.AddedAt = time.Now().UnixMilli()
	}

	tx, err := db.Begin()
	if err != nil {
		return fault.Storage("put contact", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM contacts WHERE identity = ?)`, id).Scan(&exists); err != nil {
		return fault.Storage("check contact", err)
	}
	if !exists {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count); err != nil {
			return fault.Storage("count contacts", err)
		}
		if count >= db.caps.Contacts {
			if _, err := tx.Exec(`
				DELETE FROM contacts WHERE identity IN (
					SELECT identity FROM contacts ORDER BY added_at ASC, identity ASC LIMIT 1)`); err != nil {
				return fault.Storage("evict contact", err)
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO contacts (identity, display_name, avatar_url, status, added_at, is_blocked, is_favorite)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END,
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE contacts.status END,
			is_blocked = excluded.is_blocked,
			is_favorite = excluded.is_favorite`,
		c.Identity, c.DisplayName, c.AvatarURL, c.Status, c.AddedAt, c.IsBlocked, c.IsFavorite); err != nil {
		return fault.Storage("upsert contact", err)
	}

	if err := tx.Commit(); err != nil {
		return fault.Storage("put contact", err)
	}
	return nil
}

// GetContact returns a contact by identity, or nil when absent. The lookup
// key is normalized the same way the write path normalizes it.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT identity, display_name, avatar_url, status, added_at, is_blocked, is_favorite
		FROM contacts WHERE identity = ?`, identity.Normalize(id)).
		Scan(&c.Identity, &c.DisplayName, &c.AvatarURL, &c.Status, &c.AddedAt, &c.IsBlocked, &c.IsFavorite)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AllContacts returns every contact ordered by display name.
func (db *DB) AllContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT identity, display_name, avatar_url, status, added_at, is_blocked, is_favorite
		FROM contacts
		ORDER BY display_name COLLATE NOCASE ASC, identity ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Identity, &c.DisplayName, &c.AvatarURL, &c.Status, &c.AddedAt, &c.IsBlocked, &c.IsFavorite); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactBlocked toggles the blocked flag. No-op when absent.
func (db *DB) SetContactBlocked(id string, blocked bool) error {
	if _, err := db.Exec(`UPDATE contacts SET is_blocked = ? WHERE identity = ?`,
		blocked, identity.Normalize(id)); err != nil {
		return fault.Storage("set contact blocked", err)
	}
	return nil
}

// SetContactFavorite toggles the favorite flag. No-op when absent.
func (db *DB) SetContactFavorite(id string, favorite bool) error {
	if _, err := db.Exec(`UPDATE contacts SET is_favorite = ? WHERE identity = ?`,
		favorite, identity.Normalize(id)); err != nil {
		return fault.Storage("set contact favorite", err)
	}
	return nil
}

// DeleteContact removes a contact. No-op when absent.
func (db *DB) DeleteContact(id string) error {
	if _, err := db.Exec(`DELETE FROM contacts WHERE identity = ?`, identity.Normalize(id)); err != nil {
		return fault.Storage("delete contact", err)
	}
	return nil
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
