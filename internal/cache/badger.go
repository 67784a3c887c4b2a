package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/phobologic/codeindex/internal/model"
)

const keyPrefix = "tags/"

// Config holds configuration for the badger-backed store.
type Config struct {
	// Dir is the directory for the database files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	Logger zerolog.Logger
}

// Badger is a Store backed by an embedded BadgerDB.
type Badger struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	log zerolog.Logger
}

var _ Store = (*Badger)(nil)

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// Open opens or creates the cache.
func Open(cfg Config) (*Badger, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("cache: directory is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &Badger{db: db, enc: enc, dec: dec, log: cfg.Logger}, nil
}

func key(path string) []byte {
	return []byte(keyPrefix + path)
}

// Get returns the entry for path if its fingerprint matches. An entry that
// cannot be decoded is evicted and reported as model.ErrCacheCorruption.
func (b *Badger) Get(path, fingerprint string) (Entry, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(path))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get %s: %w", path, err)
	}

	e, err := b.decode(raw)
	if err != nil {
		if evictErr := b.Evict(path); evictErr != nil {
			b.log.Warn().Str("path", path).Err(evictErr).Msg("failed to evict corrupt cache entry")
		}
		return Entry{}, false, model.NewFileError(path, model.ErrCacheCorruption, err)
	}
	if e.Fingerprint != fingerprint {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put stores e for path, replacing any entry with another fingerprint.
func (b *Badger) Put(path, fingerprint string, e Entry) error {
	e.Fingerprint = fingerprint
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", path, err)
	}
	val := b.enc.EncodeAll(data, nil)
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(path), val)
	}); err != nil {
		return fmt.Errorf("cache put %s: %w", path, err)
	}
	return nil
}

// Evict removes the entry for path. Evicting a missing path is not an error.
func (b *Badger) Evict(path string) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(path))
	}); err != nil {
		return fmt.Errorf("cache evict %s: %w", path, err)
	}
	return nil
}

// Paths lists every cached path in key order.
func (b *Badger) Paths() ([]string, error) {
	var paths []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache list: %w", err)
	}
	return paths, nil
}

// Close releases the database.
func (b *Badger) Close() error {
	b.enc.Close()
	b.dec.Close()
	return b.db.Close()
}

func (b *Badger) decode(raw []byte) (Entry, error) {
	var e Entry
	data, err := b.dec.DecodeAll(raw, nil)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	if e.Fingerprint == "" {
		return e, errors.New("entry has no fingerprint")
	}
	return e, nil
}
