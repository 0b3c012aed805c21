// Package imagecache stores compiled images in a SQLite database, keyed by
// the source path they were built from and that file's modification time.
package imagecache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/ltratt/converge/image"
)

// ErrMiss indicates that no current image is cached for a source path.
var ErrMiss = errors.New("imagecache: miss")

var log = commonlog.GetLogger("converge.imagecache")

// Cache is a persistent image cache.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: writers are serialised.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		src_path  TEXT PRIMARY KEY,
		mtime     INTEGER NOT NULL,
		image_id  TEXT NOT NULL,
		data      BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened image cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the image cached for srcPath if it was built from a file with
// modification time mtime. It returns ErrMiss otherwise.
func (c *Cache) Get(srcPath string, mtime time.Time) (*image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		stored int64
		data   []byte
	)
	err := c.db.QueryRow("SELECT mtime, data FROM images WHERE src_path = ?", srcPath).Scan(&stored, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	if stored != mtime.UnixNano() {
		log.Debugf("stale image for %s", srcPath)
		return nil, ErrMiss
	}

	img, err := image.Unmarshal(data)
	if err != nil {
		// Drop corrupt entries.
		log.Warningf("discarding cached image for %s: %s", srcPath, err)
		if _, derr := c.db.Exec("DELETE FROM images WHERE src_path = ?", srcPath); derr != nil {
			return nil, fmt.Errorf("deleting image: %w", derr)
		}
		return nil, ErrMiss
	}
	return img, nil
}

// Put stores img as the image built from srcPath at modification time mtime,
// replacing any previous entry.
func (c *Cache) Put(srcPath string, mtime time.Time, img *image.Image) error {
	data, err := image.Marshal(img)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO images (src_path, mtime, image_id, data, stored_at) VALUES (?, ?, ?, ?, ?)",
		srcPath, mtime.UnixNano(), img.ID, data, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Prune deletes entries stored before olderThan and returns how many were
// removed.
func (c *Cache) Prune(olderThan time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM images WHERE stored_at < ?", olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	if n > 0 {
		log.Infof("pruned %d cached images", n)
	}
	return n, nil
}

// Len returns the number of cached images.
func (c *Cache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}
