package store

import (
	"database/sql"
	"time"

	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
)

// ChatKey returns the conversation scope of a message: the group id when
// set, otherwise the remote peer the conversation is with.
func ChatKey(m *Message) string {
	if m.GroupID != "" {
		return identity.Normalize(m.GroupID)
	}
	if m.FromMe {
		return identity.Normalize(m.RecipientID)
	}
	return identity.Normalize(m.SenderID)
}

// PutMessage inserts or updates a message (idempotent on id) and evicts
// oldest-by-timestamp messages beyond the per-conversation capacity before
// returning. The message must resolve to a conversation: a group, the
// recipient of an outbound message, or the sender of an inbound one.
func (db *DB) PutMessage(m *Message) error {
	m.SenderID = identity.Normalize(m.SenderID)
	m.RecipientID = identity.Normalize(m.RecipientID)
	m.ChatID = ChatKey(m)
	if m.ChatID == "" {
		return fault.ErrEmptyRecipient
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	if m.Status == "" {
		m.Status = StatusPending
	}

	tx, err := db.Begin()
	if err != nil {
		return fault.Storage("put message", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, recipient_id, group_id, body,
			message_type, status, from_me, reply_to_id,
			media_url, media_mime, media_size,
			frank_tag, frank_key_commitment, frank_key,
			timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			frank_tag = excluded.frank_tag,
			frank_key_commitment = excluded.frank_key_commitment,
			frank_key = excluded.frank_key`,
		m.ID, m.ChatID, m.SenderID, m.RecipientID, m.GroupID, m.Body,
		m.Type, m.Status, m.FromMe, m.ReplyToID,
		m.MediaURL, m.MediaMIME, m.MediaSize,
		m.FrankTag, m.FrankKeyCommitment, m.FrankKey,
		m.Timestamp, now); err != nil {
		return fault.Storage("upsert message", err)
	}

	// Evict beyond the per-conversation cap, oldest timestamps first.
	if _, err := tx.Exec(`
		DELETE FROM messages
		WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?)`,
		m.ChatID, m.ChatID, db.caps.MessagesPerChat); err != nil {
		return fault.Storage("evict messages", err)
	}

	if err := tx.Commit(); err != nil {
		return fault.Storage("put message", err)
	}
	return nil
}

const messageColumns = `id, chat_id, sender_id, recipient_id, group_id, body,
	message_type, status, from_me, reply_to_id,
	media_url, media_mime, media_size,
	frank_tag, frank_key_commitment, frank_key, timestamp`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.RecipientID, &m.GroupID, &m.Body,
		&m.Type, &m.Status, &m.FromMe, &m.ReplyToID,
		&m.MediaURL, &m.MediaMIME, &m.MediaSize,
		&m.FrankTag, &m.FrankKeyCommitment, &m.FrankKey, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesForChat returns messages for a conversation using keyset
// pagination by timestamp, newest first.
func (db *DB) MessagesForChat(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, identity.Normalize(chatID), beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus sets a message's status. No-op when the id is absent.
func (db *DB) UpdateMessageStatus(id, status string) error {
	if _, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id); err != nil {
		return fault.Storage("update message status", err)
	}
	return nil
}

// AttachFranking stores the abuse-report blobs for a delivered message.
func (db *DB) AttachFranking(id string, tag, keyCommitment, key []byte) error {
	if _, err := db.Exec(`
		UPDATE messages SET frank_tag = ?, frank_key_commitment = ?, frank_key = ?
		WHERE id = ?`, tag, keyCommitment, key, id); err != nil {
		return fault.Storage("attach franking", err)
	}
	return nil
}

// DeleteMessage removes a message. No-op when the id is absent.
func (db *DB) DeleteMessage(id string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fault.Storage("delete message", err)
	}
	return nil
}

// DeleteChat removes a conversation: its messages, preview and any queued
// outbox entries, so late retry results for the deleted chat find nothing.
func (db *DB) DeleteChat(chatID string) error {
	chatID = identity.Normalize(chatID)
	tx, err := db.Begin()
	if err != nil {
		return fault.Storage("delete chat", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fault.Storage("delete chat messages", err)
	}
	if _, err := tx.Exec(`DELETE FROM chat_previews WHERE peer_id = ?`, chatID); err != nil {
		return fault.Storage("delete chat preview", err)
	}
	if _, err := tx.Exec(`DELETE FROM outbox WHERE recipient_id = ? AND kind = ?`, chatID, KindChat); err != nil {
		return fault.Storage("delete chat outbox", err)
	}
	if err := tx.Commit(); err != nil {
		return fault.Storage("delete chat", err)
	}
	return nil
}

// MessageCount returns the number of stored messages for a conversation.
func (db *DB) MessageCount(chatID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`,
		identity.Normalize(chatID)).Scan(&count)
	return count, err
}

// TotalMessageCount returns the total number of stored messages.
func (db *DB) TotalMessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
