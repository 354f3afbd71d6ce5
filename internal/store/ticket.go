package store

import (
	"database/sql"
	"time"

	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
)

const ticketColumns = `id, contact_id, status, our_commitment, our_secret,
	their_commitment, match_token, created_at, matched_at`

func scanTicket(row interface{ Scan(...any) error }) (*MatchTicket, error) {
	var t MatchTicket
	err := row.Scan(&t.ID, &t.ContactID, &t.Status, &t.OurCommitment, &t.OurSecret,
		&t.TheirCommitment, &t.MatchToken, &t.CreatedAt, &t.MatchedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PutTicket inserts or updates a match ticket. There is at most one ticket
// per contact; the ledger is bounded FIFO by created_at.
func (db *DB) PutTicket(t *MatchTicket) error {
	t.ContactID = identity.Normalize(t.ContactID)
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := db.Begin()
	if err != nil {
		return fault.Storage("put ticket", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM match_tickets WHERE contact_id = ?)`, t.ContactID).Scan(&exists); err != nil {
		return fault.Storage("check ticket", err)
	}
	if !exists {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM match_tickets`).Scan(&count); err != nil {
			return fault.Storage("count tickets", err)
		}
		if count >= db.caps.Tickets {
			if _, err := tx.Exec(`
				DELETE FROM match_tickets WHERE id IN (
					SELECT id FROM match_tickets ORDER BY created_at ASC, id ASC LIMIT 1)`); err != nil {
				return fault.Storage("evict ticket", err)
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO match_tickets (id, contact_id, status, our_commitment, our_secret, their_commitment, match_token, created_at, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			status = excluded.status,
			our_commitment = excluded.our_commitment,
			our_secret = excluded.our_secret,
			their_commitment = excluded.their_commitment,
			match_token = excluded.match_token,
			matched_at = excluded.matched_at`,
		t.ID, t.ContactID, t.Status, t.OurCommitment, t.OurSecret,
		t.TheirCommitment, t.MatchToken, t.CreatedAt, t.MatchedAt); err != nil {
		return fault.Storage("upsert ticket", err)
	}

	if err := tx.Commit(); err != nil {
		return fault.Storage("put ticket", err)
	}
	return nil
}

// TicketForContact returns the ticket for a contact, or nil when absent.
func (db *DB) TicketForContact(contactID string) (*MatchTicket, error) {
	t, err := scanTicket(db.QueryRow(`SELECT `+ticketColumns+` FROM match_tickets WHERE contact_id = ?`,
		identity.Normalize(contactID)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTickets returns tickets newest first.
func (db *DB) ListTickets(limit int) ([]MatchTicket, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+ticketColumns+` FROM match_tickets ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tickets []MatchTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// DeleteTicket removes a ticket by contact. No-op when absent.
func (db *DB) DeleteTicket(contactID string) error {
	if _, err := db.Exec(`DELETE FROM match_tickets WHERE contact_id = ?`, identity.Normalize(contactID)); err != nil {
		return fault.Storage("delete ticket", err)
	}
	return nil
}

// TicketCount returns the total number of tickets in the ledger.
func (db *DB) TicketCount() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM match_tickets`).Scan(&count)
	return count, err
}
