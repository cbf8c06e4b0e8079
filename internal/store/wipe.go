package store

import (
	"database/sql"
	"fmt"
)

// Wipe discards every mirrored row, queued mutation and cache index entry in
// one transaction. Used at logout; there is no graceful drain.
func (db *DB) Wipe() error {
	tables := []string{
		"receipts",
		"messages",
		"participants",
		"conversations",
		"contacts",
		"users",
		"mutations",
		"media_cache",
	}
	return db.WithTx(func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		return nil
	})
}
