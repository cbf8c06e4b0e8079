package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/syncbox/internal/tempid"
)

const messageColumns = `id, server_id, conversation_id, sender_id, kind, content, media_url,
	media_local_path, reply_to_id, status, is_edited, is_deleted, expires_at, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ServerID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content,
		&m.MediaURL, &m.MediaLocalPath, &m.ReplyToID, &m.Status, &m.IsEdited, &m.IsDeleted,
		&m.ExpiresAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMessage inserts or updates a message, idempotent on server_id.
// media_local_path is client-only and never overwritten by an upsert.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (server_id, conversation_id, sender_id, kind, content, media_url,
			reply_to_id, status, is_edited, is_deleted, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			content = excluded.content,
			media_url = excluded.media_url,
			status = excluded.status,
			is_edited = excluded.is_edited,
			is_deleted = excluded.is_deleted,
			expires_at = excluded.expires_at`,
		m.ServerID, m.ConversationID, m.SenderID, m.Kind, m.Content, m.MediaURL,
		m.ReplyToID, m.Status, m.IsEdited, m.IsDeleted, m.ExpiresAt, m.CreatedAt)
	return err
}

// GetMessage returns a single message by server id (or temp id), or nil.
func (db *DB) GetMessage(serverID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a conversation using keyset pagination
// by creation time, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, beforeTs, limit)
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

// SaveOptimistic inserts a provisional message row and its queued mutation
// in one transaction. Both commit together or not at all: a temp message is
// useless without its queue entry, and a queue entry without the row is an
// unsendable ghost.
func (db *DB) SaveOptimistic(m *Message, entityType, action string, payload []byte) error {
	if !tempid.Is(m.ServerID) {
		return fmt.Errorf("optimistic message id %q is not a temp id", m.ServerID)
	}
	now := time.Now().UnixMilli()
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO messages (server_id, conversation_id, sender_id, kind, content, media_url,
				reply_to_id, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ServerID, m.ConversationID, m.SenderID, m.Kind, m.Content, m.MediaURL,
			m.ReplyToID, StatusSending, m.CreatedAt); err != nil {
			return fmt.Errorf("insert optimistic message: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO mutations (entity_type, entity_id, action, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			entityType, m.ServerID, action, string(payload), now); err != nil {
			return fmt.Errorf("enqueue mutation: %w", err)
		}
		return nil
	})
}

// FindOptimisticCandidate returns the oldest provisional row in the
// conversation matching sender, kind and content with status exactly
// "sending", or nil. This is the heuristic reconciliation fallback for
// pushed confirmations that arrive before the send ack.
func (db *DB) FindOptimisticCandidate(conversationID, senderID, kind, content string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND kind = ? AND content = ?
			AND status = ? AND server_id LIKE ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		conversationID, senderID, kind, content, StatusSending, tempid.Prefix+"%"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// PromoteOptimistic replaces a provisional row's identity with the confirmed
// record, in one transaction. If a row with the confirmed server id already
// exists (the server echoed the message before the ack), the temp row is
// dropped instead of duplicating it; if the temp row is gone, the confirmed
// record is upserted. Any queued mutations referencing the temp id are
// removed so the send is never replayed.
func (db *DB) PromoteOptimistic(tempID string, m *Message) error {
	return db.WithTx(func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE server_id = ?`, m.ServerID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			if _, err := tx.Exec(`DELETE FROM messages WHERE server_id = ?`, tempID); err != nil {
				return fmt.Errorf("drop temp row: %w", err)
			}
			if err := upsertMessageTx(tx, m); err != nil {
				return fmt.Errorf("update confirmed row: %w", err)
			}
		} else {
			res, err := tx.Exec(`
				UPDATE messages SET
					server_id = ?, status = ?, content = ?, media_url = ?,
					is_edited = ?, is_deleted = ?, expires_at = ?, created_at = ?
				WHERE server_id = ?`,
				m.ServerID, m.Status, m.Content, m.MediaURL,
				m.IsEdited, m.IsDeleted, m.ExpiresAt, m.CreatedAt, tempID)
			if err != nil {
				return fmt.Errorf("promote temp row: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				if err := upsertMessageTx(tx, m); err != nil {
					return fmt.Errorf("insert confirmed row: %w", err)
				}
			}
		}
		if _, err := tx.Exec(`DELETE FROM mutations WHERE entity_id = ?`, tempID); err != nil {
			return fmt.Errorf("drop queued mutations: %w", err)
		}
		return nil
	})
}

func upsertMessageTx(tx *sql.Tx, m *Message) error {
	_, err := tx.Exec(`
		INSERT INTO messages (server_id, conversation_id, sender_id, kind, content, media_url,
			reply_to_id, status, is_edited, is_deleted, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			content = excluded.content,
			media_url = excluded.media_url,
			status = excluded.status,
			is_edited = excluded.is_edited,
			is_deleted = excluded.is_deleted,
			expires_at = excluded.expires_at`,
		m.ServerID, m.ConversationID, m.SenderID, m.Kind, m.Content, m.MediaURL,
		m.ReplyToID, m.Status, m.IsEdited, m.IsDeleted, m.ExpiresAt, m.CreatedAt)
	return err
}

// UpdateMessageStatus sets the delivery status for a message.
func (db *DB) UpdateMessageStatus(serverID, msgStatus string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE server_id = ?`, msgStatus, serverID)
	return err
}

// MarkMessageEdited applies an edit pushed by the server.
func (db *DB) MarkMessageEdited(serverID, content string) error {
	_, err := db.Exec(`UPDATE messages SET content = ?, is_edited = 1 WHERE server_id = ?`, content, serverID)
	return err
}

// MarkMessageDeleted soft-deletes a message pushed as deleted.
func (db *DB) MarkMessageDeleted(serverID string) error {
	_, err := db.Exec(`UPDATE messages SET is_deleted = 1 WHERE server_id = ?`, serverID)
	return err
}

// UpdateLocalMediaPath records where the message's media was cached on disk.
func (db *DB) UpdateLocalMediaPath(serverID, path string) error {
	_, err := db.Exec(`UPDATE messages SET media_local_path = ? WHERE server_id = ?`, path, serverID)
	return err
}

// DeleteMessage removes a message row and any queued mutations referencing
// it, in one transaction. Used when the user discards a failed send.
func (db *DB) DeleteMessage(serverID string) error {
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM messages WHERE server_id = ?`, serverID); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM mutations WHERE entity_id = ?`, serverID)
		return err
	})
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
