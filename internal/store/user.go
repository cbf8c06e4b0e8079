package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts or updates a mirrored remote profile.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (server_id, display_name, avatar_url, phone, presence, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE users.phone END,
			presence = excluded.presence,
			last_seen_at = MAX(users.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at`,
		u.ServerID, u.DisplayName, u.AvatarURL, u.Phone, u.Presence, u.LastSeenAt, now)
	return err
}

// GetUser returns a user by server id, or nil.
func (db *DB) GetUser(serverID string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, server_id, display_name, avatar_url, phone, presence, last_seen_at
		FROM users WHERE server_id = ?`, serverID).
		Scan(&u.ID, &u.ServerID, &u.DisplayName, &u.AvatarURL, &u.Phone, &u.Presence, &u.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePresence applies a pushed presence change without touching the rest
// of the profile. Unknown users get a minimal row so presence is not lost.
func (db *DB) UpdatePresence(serverID, presence string, lastSeenAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (server_id, presence, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			presence = excluded.presence,
			last_seen_at = MAX(users.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at`,
		serverID, presence, lastSeenAt, now)
	return err
}
