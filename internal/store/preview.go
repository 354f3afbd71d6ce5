package store

import (
	"database/sql"
	"unicode/utf8"

	"github.com/drift-im/drift/internal/fault"
	"github.com/drift-im/drift/internal/identity"
)

// BumpPreview recomputes the chat preview for the conversation a message
// belongs to. Inbound messages increment the unread count; outbound ones
// reset the read/delivered markers for the new last message.
func (db *DB) BumpPreview(m *Message) error {
	peerID := m.ChatID
	if peerID == "" {
		peerID = ChatKey(m)
	}
	unreadDelta := 1
	if m.FromMe {
		unreadDelta = 0
	}
	if _, err := db.Exec(`
		INSERT INTO chat_previews (peer_id, last_message, last_message_time, unread_count, is_from_me, is_delivered, is_read)
		VALUES (?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_message = CASE WHEN excluded.last_message_time >= chat_previews.last_message_time THEN excluded.last_message ELSE chat_previews.last_message END,
			last_message_time = MAX(chat_previews.last_message_time, excluded.last_message_time),
			unread_count = chat_previews.unread_count + ?,
			is_from_me = CASE WHEN excluded.last_message_time >= chat_previews.last_message_time THEN excluded.is_from_me ELSE chat_previews.is_from_me END,
			is_delivered = 0,
			is_read = 0`,
		peerID, truncate(m.Body, 100), m.Timestamp, unreadDelta, m.FromMe, unreadDelta); err != nil {
		return fault.Storage("bump preview", err)
	}
	return nil
}

// MarkChatRead zeroes the unread count and marks the preview read; stored
// inbound messages for the conversation move to read status.
func (db *DB) MarkChatRead(peerID string) error {
	peerID = identity.Normalize(peerID)
	tx, err := db.Begin()
	if err != nil {
		return fault.Storage("mark chat read", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE chat_previews SET unread_count = 0, is_read = 1 WHERE peer_id = ?`, peerID); err != nil {
		return fault.Storage("mark preview read", err)
	}
	if _, err := tx.Exec(`
		UPDATE messages SET status = ? WHERE chat_id = ? AND from_me = 0 AND status != ?`,
		StatusRead, peerID, StatusRead); err != nil {
		return fault.Storage("mark messages read", err)
	}
	if err := tx.Commit(); err != nil {
		return fault.Storage("mark chat read", err)
	}
	return nil
}

// SetChatPinned toggles the pinned flag on a preview. No-op when absent.
func (db *DB) SetChatPinned(peerID string, pinned bool) error {
	if _, err := db.Exec(`UPDATE chat_previews SET is_pinned = ? WHERE peer_id = ?`,
		pinned, identity.Normalize(peerID)); err != nil {
		return fault.Storage("set chat pinned", err)
	}
	return nil
}

// GetPreview returns a single preview, or nil when absent.
func (db *DB) GetPreview(peerID string) (*ChatPreview, error) {
	var p ChatPreview
	err := db.QueryRow(`
		SELECT peer_id, last_message, last_message_time, unread_count, is_pinned, is_from_me, is_delivered, is_read
		FROM chat_previews WHERE peer_id = ?`, identity.Normalize(peerID)).
		Scan(&p.PeerID, &p.LastMessage, &p.LastMessageTime, &p.UnreadCount, &p.IsPinned, &p.IsFromMe, &p.IsDelivered, &p.IsRead)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ChatPreviews returns previews pinned-first, then by recency.
func (db *DB) ChatPreviews(limit, offset int) ([]ChatPreview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT peer_id, last_message, last_message_time, unread_count, is_pinned, is_from_me, is_delivered, is_read
		FROM chat_previews
		ORDER BY is_pinned DESC, last_message_time DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var previews []ChatPreview
	for rows.Next() {
		var p ChatPreview
		if err := rows.Scan(&p.PeerID, &p.LastMessage, &p.LastMessageTime, &p.UnreadCount, &p.IsPinned, &p.IsFromMe, &p.IsDelivered, &p.IsRead); err != nil {
			return nil, err
		}
		previews = append(previews, p)
	}
	return previews, rows.Err()
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
