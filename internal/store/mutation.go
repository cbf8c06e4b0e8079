package store

import "time"

// EnqueueMutation appends an operation to the durable outbound queue.
// Optimistic creates go through SaveOptimistic instead so the row and queue
// entry share one transaction; this is for re-queuing an explicit retry.
func (db *DB) EnqueueMutation(entityType, entityID, action string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO mutations (entity_type, entity_id, action, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entityType, entityID, action, string(payload), now)
	return err
}

// PendingMutations returns queued mutations for one entity type,
// oldest-first. The drain order within a type is FIFO.
func (db *DB) PendingMutations(entityType string) ([]Mutation, error) {
	rows, err := db.Query(`
		SELECT id, entity_type, entity_id, action, payload, retry_count, last_retry_at, created_at
		FROM mutations
		WHERE entity_type = ?
		ORDER BY created_at ASC, id ASC`, entityType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var muts []Mutation
	for rows.Next() {
		var m Mutation
		var payload string
		if err := rows.Scan(&m.ID, &m.EntityType, &m.EntityID, &m.Action, &payload,
			&m.RetryCount, &m.LastRetryAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Payload = []byte(payload)
		muts = append(muts, m)
	}
	return muts, rows.Err()
}

// MutationEntityTypes returns the distinct entity types currently queued.
func (db *DB) MutationEntityTypes() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT entity_type FROM mutations ORDER BY entity_type`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// DeleteMutation removes a queue entry after successful delivery or
// rejection.
func (db *DB) DeleteMutation(id int64) error {
	_, err := db.Exec(`DELETE FROM mutations WHERE id = ?`, id)
	return err
}

// BumpMutationRetry records a failed delivery attempt; the entry stays in
// place for the next sync run.
func (db *DB) BumpMutationRetry(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE mutations SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ?`, now, id)
	return err
}

// MutationCount returns the number of queued mutations.
func (db *DB) MutationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM mutations`).Scan(&count)
	return count, err
}
