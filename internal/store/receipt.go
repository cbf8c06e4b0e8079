package store

import "database/sql"

// ApplyReceipt records that a user read a message, one row per
// (message, user), keeping the newest read time. Returns false without
// error when the message is not mirrored locally yet; the receipt is
// dropped and the next bulk pull restores consistency.
func (db *DB) ApplyReceipt(messageServerID, userID string, readAt int64) (bool, error) {
	var msgID int64
	err := db.QueryRow(`SELECT id FROM messages WHERE server_id = ?`, messageServerID).Scan(&msgID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = db.Exec(`
		INSERT INTO receipts (message_id, user_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO UPDATE SET
			read_at = MAX(receipts.read_at, excluded.read_at)`,
		msgID, userID, readAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListReceipts returns the receipts recorded for a message.
func (db *DB) ListReceipts(messageServerID string) ([]Receipt, error) {
	rows, err := db.Query(`
		SELECT r.id, r.message_id, r.user_id, r.read_at
		FROM receipts r
		JOIN messages m ON m.id = r.message_id
		WHERE m.server_id = ?
		ORDER BY r.read_at ASC, r.id ASC`, messageServerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
