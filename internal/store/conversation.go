package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation from a server record.
// Client-maintained columns (unread_count, is_muted, is_pinned, soft-delete
// flags) are left untouched on conflict.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (server_id, kind, title, avatar_url, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			kind = excluded.kind,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ServerID, c.Kind, c.Title, c.AvatarURL, c.LastMessagePreview, c.LastMessageAt, now)
	return err
}

const conversationColumns = `id, server_id, kind, title, avatar_url, last_message_preview,
	last_message_at, unread_count, is_muted, is_pinned, is_deleted, deleted_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ServerID, &c.Kind, &c.Title, &c.AvatarURL, &c.LastMessagePreview,
		&c.LastMessageAt, &c.UnreadCount, &c.IsMuted, &c.IsPinned, &c.IsDeleted, &c.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns non-deleted conversations, pinned first, then by
// most recent activity.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE is_deleted = 0
		ORDER BY is_pinned DESC, last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by server id, or nil.
func (db *DB) GetConversation(serverID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationColumns+` FROM conversations WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ReplaceParticipants deletes all participant rows for the conversation and
// inserts the given set, in one transaction.
func (db *DB) ReplaceParticipants(conversationServerID string, parts []Participant) error {
	return db.WithTx(func(tx *sql.Tx) error {
		var convID int64
		err := tx.QueryRow(`SELECT id FROM conversations WHERE server_id = ?`, conversationServerID).Scan(&convID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("conversation %q not found", conversationServerID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM participants WHERE conversation_id = ?`, convID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for _, p := range parts {
			if _, err := tx.Exec(`
				INSERT INTO participants (conversation_id, user_id, role, joined_at)
				VALUES (?, ?, ?, ?)`,
				convID, p.UserID, p.Role, p.JoinedAt); err != nil {
				return fmt.Errorf("insert participant %q: %w", p.UserID, err)
			}
		}
		return nil
	})
}

// ListParticipants returns the participant rows for a conversation.
func (db *DB) ListParticipants(conversationServerID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT p.id, p.conversation_id, p.user_id, p.role, p.joined_at
		FROM participants p
		JOIN conversations c ON c.id = p.conversation_id
		WHERE c.server_id = ?
		ORDER BY p.joined_at ASC, p.id ASC`, conversationServerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// TouchConversation advances the preview and activity timestamp, keeping the
// newest value.
func (db *DB) TouchConversation(serverID, preview string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?
		WHERE server_id = ?`,
		at, preview, at, now, serverID)
	return err
}

// IncrementUnread bumps the client-maintained unread counter.
func (db *DB) IncrementUnread(serverID string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1 WHERE server_id = ?`, serverID)
	return err
}

// ResetUnread zeroes the unread counter, called when a conversation is opened.
func (db *DB) ResetUnread(serverID string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE server_id = ?`, serverID)
	return err
}

// SetConversationMuted updates the local mute preference.
func (db *DB) SetConversationMuted(serverID string, muted bool) error {
	_, err := db.Exec(`UPDATE conversations SET is_muted = ? WHERE server_id = ?`, muted, serverID)
	return err
}

// SetConversationPinned updates the local pin preference.
func (db *DB) SetConversationPinned(serverID string, pinned bool) error {
	_, err := db.Exec(`UPDATE conversations SET is_pinned = ? WHERE server_id = ?`, pinned, serverID)
	return err
}

// SoftDeleteConversation hides a conversation without discarding its rows.
func (db *DB) SoftDeleteConversation(serverID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET is_deleted = 1, deleted_at = ? WHERE server_id = ?`, now, serverID)
	return err
}

// HardDeleteConversation removes a conversation, its messages and its
// participants in one transaction.
func (db *DB) HardDeleteConversation(serverID string) error {
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, serverID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		// Participant rows cascade from the conversation row.
		if _, err := tx.Exec(`DELETE FROM conversations WHERE server_id = ?`, serverID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// ConversationCount returns the total number of non-deleted conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE is_deleted = 0`).Scan(&count)
	return count, err
}
