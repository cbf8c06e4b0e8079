package store

import (
	"database/sql"
	"time"
)

// UpsertContact inserts or updates a contact-list entry.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (server_id, user_id, contact_user_id, nickname, is_blocked, is_favorite, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			user_id = excluded.user_id,
			contact_user_id = excluded.contact_user_id,
			nickname = CASE WHEN excluded.nickname != '' THEN excluded.nickname ELSE contacts.nickname END,
			is_blocked = excluded.is_blocked,
			is_favorite = excluded.is_favorite,
			updated_at = excluded.updated_at`,
		c.ServerID, c.UserID, c.ContactUserID, c.Nickname, c.IsBlocked, c.IsFavorite, now)
	return err
}

// GetContact returns a contact by server id, or nil.
func (db *DB) GetContact(serverID string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT id, server_id, user_id, contact_user_id, nickname, is_blocked, is_favorite
		FROM contacts WHERE server_id = ?`, serverID).
		Scan(&c.ID, &c.ServerID, &c.UserID, &c.ContactUserID, &c.Nickname, &c.IsBlocked, &c.IsFavorite)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts, favorites first.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, server_id, user_id, contact_user_id, nickname, is_blocked, is_favorite
		FROM contacts
		ORDER BY is_favorite DESC, nickname ASC, server_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.ServerID, &c.UserID, &c.ContactUserID, &c.Nickname, &c.IsBlocked, &c.IsFavorite); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactBlocked updates the blocked flag.
func (db *DB) SetContactBlocked(serverID string, blocked bool) error {
	_, err := db.Exec(`UPDATE contacts SET is_blocked = ? WHERE server_id = ?`, blocked, serverID)
	return err
}

// SetContactFavorite updates the favorite flag.
func (db *DB) SetContactFavorite(serverID string, favorite bool) error {
	_, err := db.Exec(`UPDATE contacts SET is_favorite = ? WHERE server_id = ?`, favorite, serverID)
	return err
}
