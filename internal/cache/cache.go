// Package cache persists extracted tags keyed by file path and content
// fingerprint, so unchanged files are never parsed twice.
package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/phobologic/codeindex/internal/model"
)

// Entry is the cached extraction result for one file.
type Entry struct {
	Fingerprint string      `json:"fingerprint"`
	Language    string      `json:"language"`
	IndexedAt   time.Time   `json:"indexed_at"`
	Tags        []model.Tag `json:"tags"`
	// ParseError is set when the tags came from a tree with syntax errors.
	ParseError string `json:"parse_error,omitempty"`
}

// Record turns a cache entry back into the FileRecord it was made from.
func (e Entry) Record(path string) model.FileRecord {
	return model.FileRecord{
		Path:        path,
		Language:    e.Language,
		Fingerprint: e.Fingerprint,
		Tags:        e.Tags,
		IndexedAt:   e.IndexedAt,
	}
}

// FromRecord builds the cache entry for a freshly extracted record.
func FromRecord(r model.FileRecord) Entry {
	return Entry{
		Fingerprint: r.Fingerprint,
		Language:    r.Language,
		IndexedAt:   r.IndexedAt,
		Tags:        r.Tags,
	}
}

// Store holds at most one entry per path. A Get whose fingerprint does not
// match the stored one is a miss, not an error. Implementations must be
// safe for concurrent use and make each Put visible atomically.
type Store interface {
	Get(path, fingerprint string) (Entry, bool, error)
	Put(path, fingerprint string, e Entry) error
	Evict(path string) error
	Paths() ([]string, error)
	Close() error
}

// Fingerprint returns the content digest used as the cache key.
func Fingerprint(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}
