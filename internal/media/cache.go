// Package media manages the bounded on-disk cache of remote media. Files
// are keyed by source URL so identical media shared across messages and
// conversations is fetched once; eviction is driven by last-access age.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRetention is how long an unused cached file survives before the
// age sweep removes it.
const DefaultRetention = 30 * 24 * time.Hour

// ProgressFunc reports fractional download progress in [0, 1].
type ProgressFunc func(fraction float64)

// Cache downloads remote media to a dedicated directory and indexes the
// files in the local store.
type Cache struct {
	db        *store.DB
	dir       string
	retention time.Duration
	client    *http.Client
	logger    *zap.Logger
	group     singleflight.Group
}

// New creates a media cache rooted at dir, creating the directory if needed.
// retention <= 0 selects DefaultRetention.
func New(db *store.DB, dir string, retention time.Duration, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:        db,
		dir:       dir,
		retention: retention,
		client:    &http.Client{},
		logger:    logger,
	}, nil
}

// CachedPath returns the local path for a URL, or "" when not cached. The
// index never claims a path that does not exist: a stale entry whose file is
// gone is removed on access and treated as a miss.
func (c *Cache) CachedPath(rawURL string) string {
	entry, err := c.db.GetCachedMedia(rawURL)
	if err != nil {
		c.logger.Error("failed to read media index", zap.Error(err), zap.String("url", rawURL))
		return ""
	}
	if entry == nil {
		return ""
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		c.logger.Warn("stale media index entry, removing", zap.String("url", rawURL), zap.String("path", entry.LocalPath))
		if err := c.db.DeleteCachedMedia(rawURL); err != nil {
			c.logger.Error("failed to remove stale media entry", zap.Error(err), zap.String("url", rawURL))
		}
		return ""
	}
	if err := c.db.TouchCachedMedia(rawURL, time.Now().UnixMilli()); err != nil {
		c.logger.Error("failed to touch media entry", zap.Error(err), zap.String("url", rawURL))
	}
	return entry.LocalPath
}

// CacheFile ensures the media at the URL is on disk and returns its local
// path. Already-cached URLs return immediately; concurrent calls for the
// same URL share a single download. Only a completed download is indexed, so
// cancellation never leaves a partial entry.
func (c *Cache) CacheFile(ctx context.Context, rawURL string, progress ProgressFunc) (string, error) {
	if p := c.CachedPath(rawURL); p != "" {
		if progress != nil {
			progress(1)
		}
		return p, nil
	}

	v, err, _ := c.group.Do(rawURL, func() (any, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// just finished this URL.
		if p := c.CachedPath(rawURL); p != "" {
			return p, nil
		}
		return c.download(ctx, rawURL, progress)
	})
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(1)
	}
	return v.(string), nil
}

func (c *Cache) download(ctx context.Context, rawURL string, progress ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, "dl-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := copyWithProgress(tmp, resp.Body, resp.ContentLength, progress)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("download media: %w", err)
	}

	final := filepath.Join(c.dir, uuid.New().String()+extFor(rawURL))
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("place media file: %w", err)
	}

	now := time.Now().UnixMilli()
	entry := &store.CachedMedia{
		URL:            rawURL,
		LocalPath:      final,
		MimeType:       resp.Header.Get("Content-Type"),
		SizeBytes:      written,
		CachedAt:       now,
		LastAccessedAt: now,
	}
	if err := c.db.UpsertCachedMedia(entry); err != nil {
		_ = os.Remove(final)
		return "", fmt.Errorf("index media: %w", err)
	}

	c.logger.Info("media cached",
		zap.String("url", rawURL),
		zap.String("path", final),
		zap.Int64("bytes", written))
	return final, nil
}

// CleanupOldFiles removes index entries (and backing files) last accessed
// before the retention window, regardless of total cache size. Returns the
// number of entries removed.
func (c *Cache) CleanupOldFiles() (int, error) {
	cutoff := time.Now().Add(-c.retention).UnixMilli()
	entries, err := c.db.ListCachedMediaOlderThan(cutoff)
	if err != nil {
		return 0, fmt.Errorf("list old media: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove cached file", zap.Error(err), zap.String("path", entry.LocalPath))
		}
		if err := c.db.DeleteCachedMedia(entry.URL); err != nil {
			c.logger.Error("failed to remove media entry", zap.Error(err), zap.String("url", entry.URL))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("media cache swept", zap.Int("removed", removed))
	}
	return removed, nil
}

// Size sums the indexed sizes. It does not re-stat the disk.
func (c *Cache) Size() (int64, error) {
	return c.db.CachedMediaSize()
}

// Clear deletes the entire cache directory and all index rows. Used at
// logout; errors are logged and the clear continues.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		c.logger.Error("failed to remove cache dir", zap.Error(err), zap.String("dir", c.dir))
	}
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		c.logger.Error("failed to recreate cache dir", zap.Error(err), zap.String("dir", c.dir))
	}
	if err := c.db.ClearCachedMedia(); err != nil {
		return fmt.Errorf("clear media index: %w", err)
	}
	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if progress != nil && total > 0 {
				progress(float64(written) / float64(total))
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// extFor keeps the source extension so viewers can infer the file type.
func extFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}
