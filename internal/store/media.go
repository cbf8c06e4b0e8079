package store

import "database/sql"

// UpsertCachedMedia records a completed download in the cache index.
func (db *DB) UpsertCachedMedia(m *CachedMedia) error {
	_, err := db.Exec(`
		INSERT INTO media_cache (url, local_path, mime_type, size_bytes, cached_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			local_path = excluded.local_path,
			mime_type = excluded.mime_type,
			size_bytes = excluded.size_bytes,
			cached_at = excluded.cached_at,
			last_accessed_at = excluded.last_accessed_at`,
		m.URL, m.LocalPath, m.MimeType, m.SizeBytes, m.CachedAt, m.LastAccessedAt)
	return err
}

// GetCachedMedia returns the index entry for a URL, or nil.
func (db *DB) GetCachedMedia(url string) (*CachedMedia, error) {
	var m CachedMedia
	err := db.QueryRow(`
		SELECT url, local_path, mime_type, size_bytes, cached_at, last_accessed_at
		FROM media_cache WHERE url = ?`, url).
		Scan(&m.URL, &m.LocalPath, &m.MimeType, &m.SizeBytes, &m.CachedAt, &m.LastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// TouchCachedMedia advances the last-access timestamp that drives eviction.
func (db *DB) TouchCachedMedia(url string, at int64) error {
	_, err := db.Exec(`UPDATE media_cache SET last_accessed_at = ? WHERE url = ?`, at, url)
	return err
}

// DeleteCachedMedia removes one index entry.
func (db *DB) DeleteCachedMedia(url string) error {
	_, err := db.Exec(`DELETE FROM media_cache WHERE url = ?`, url)
	return err
}

// ListCachedMediaOlderThan returns entries last accessed before the cutoff.
func (db *DB) ListCachedMediaOlderThan(cutoff int64) ([]CachedMedia, error) {
	rows, err := db.Query(`
		SELECT url, local_path, mime_type, size_bytes, cached_at, last_accessed_at
		FROM media_cache
		WHERE last_accessed_at < ?
		ORDER BY last_accessed_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []CachedMedia
	for rows.Next() {
		var m CachedMedia
		if err := rows.Scan(&m.URL, &m.LocalPath, &m.MimeType, &m.SizeBytes, &m.CachedAt, &m.LastAccessedAt); err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// CachedMediaSize sums the indexed sizes. It does not re-stat the disk.
func (db *DB) CachedMediaSize() (int64, error) {
	var size int64
	err := db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM media_cache`).Scan(&size)
	return size, err
}

// ClearCachedMedia empties the cache index.
func (db *DB) ClearCachedMedia() error {
	_, err := db.Exec(`DELETE FROM media_cache`)
	return err
}
