package store

import (
	"database/sql"

	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
)

const outboxColumns = `message_id, recipient_id, kind, body, payload,
	created_at, next_retry_at, attempt_count, last_error`

func scanOutbox(row interface{ Scan(...any) error }) (*OutboxEntry, error) {
	var e OutboxEntry
	err := row.Scan(&e.MessageID, &e.RecipientID, &e.Kind, &e.Body, &e.Payload,
		&e.CreatedAt, &e.NextRetryAt, &e.AttemptCount, &e.LastError)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertOutbox queues an entry. When the recipient is at capacity the
// single oldest entry by created_at is evicted first; an evicted chat
// entry's Message is marked failed (a data-loss event, never a silent
// disappearance). Returns the evicted entry's message id, if any.
func (db *DB) InsertOutbox(e *OutboxEntry) (evicted string, err error) {
	e.RecipientID = identity.Normalize(e.RecipientID)
	if e.Kind == "" {
		e.Kind = KindChat
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fault.Storage("insert outbox", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM outbox WHERE recipient_id = ?`, e.RecipientID).Scan(&count); err != nil {
		return "", fault.Storage("count outbox", err)
	}
	if count >= db.caps.OutboxPerRecipient {
		var oldID, oldKind string
		err := tx.QueryRow(`
			SELECT message_id, kind FROM outbox
			WHERE recipient_id = ?
			ORDER BY created_at ASC, message_id ASC
			LIMIT 1`, e.RecipientID).Scan(&oldID, &oldKind)
		if err != nil && err != sql.ErrNoRows {
			return "", fault.Storage("find oldest outbox", err)
		}
		if err == nil {
			if _, err := tx.Exec(`DELETE FROM outbox WHERE message_id = ?`, oldID); err != nil {
				return "", fault.Storage("evict outbox", err)
			}
			if oldKind == KindChat {
				if _, err := tx.Exec(`UPDATE messages SET status = ? WHERE id = ?`, StatusFailed, oldID); err != nil {
					return "", fault.Storage("fail evicted message", err)
				}
			}
			evicted = oldID
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO outbox (message_id, recipient_id, kind, body, payload, created_at, next_retry_at, attempt_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.MessageID, e.RecipientID, e.Kind, e.Body, e.Payload,
		e.CreatedAt, e.NextRetryAt, e.AttemptCount, e.LastError); err != nil {
		return "", fault.Storage("insert outbox entry", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fault.Storage("insert outbox", err)
	}
	return evicted, nil
}

// GetOutbox returns an entry by message id, or nil when absent.
func (db *DB) GetOutbox(messageID string) (*OutboxEntry, error) {
	e, err := scanOutbox(db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE message_id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteOutbox removes an entry. No-op when absent.
func (db *DB) DeleteOutbox(messageID string) error {
	if _, err := db.Exec(`DELETE FROM outbox WHERE message_id = ?`, messageID); err != nil {
		return fault.Storage("delete outbox", err)
	}
	return nil
}

// RecordOutboxFailure persists a failed attempt: attempt count, recomputed
// next retry time and the last error text.
func (db *DB) RecordOutboxFailure(messageID string, attempts int, nextRetryAt int64, lastError string) error {
	if _, err := db.Exec(`
		UPDATE outbox SET attempt_count = ?, next_retry_at = ?, last_error = ?
		WHERE message_id = ?`, attempts, nextRetryAt, lastError, messageID); err != nil {
		return fault.Storage("record outbox failure", err)
	}
	return nil
}

// DueOutbox returns entries eligible for a send attempt, earliest-due
// first. Entries at or beyond maxAttempts are permanently failed and are
// never due. When all is true the schedule is ignored (flush-now).
func (db *DB) DueOutbox(nowMillis int64, maxAttempts int, all bool) ([]OutboxEntry, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox WHERE attempt_count < ?`
	args := []any{maxAttempts}
	if !all {
		q += ` AND next_retry_at <= ?`
		args = append(args, nowMillis)
	}
	q += ` ORDER BY next_retry_at ASC, created_at ASC`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// OutboxForRecipient returns every outstanding entry for a recipient,
// oldest first.
func (db *DB) OutboxForRecipient(recipientID string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT `+outboxColumns+` FROM outbox
		WHERE recipient_id = ?
		ORDER BY created_at ASC`, identity.Normalize(recipientID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// AllOutbox returns every outstanding entry, oldest first.
func (db *DB) AllOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`SELECT ` + outboxColumns + ` FROM outbox ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// OutboxCountForRecipient returns the number of outstanding entries for a
// recipient.
func (db *DB) OutboxCountForRecipient(recipientID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE recipient_id = ?`,
		identity.Normalize(recipientID)).Scan(&count)
	return count, err
}

// PurgeFailedOutbox removes all permanently-failed entries and returns how
// many were removed.
func (db *DB) PurgeFailedOutbox(maxAttempts int) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE attempt_count >= ?`, maxAttempts)
	if err != nil {
		return 0, fault.Storage("purge failed outbox", err)
	}
	return res.RowsAffected()
}
