// Package store persists the IndexState in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/phobologic/codeindex/internal/model"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	path        TEXT PRIMARY KEY,
	language    TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	indexed_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tags (
	file      TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	line      INTEGER NOT NULL,
	col       INTEGER NOT NULL,
	name      TEXT NOT NULL,
	kind      TEXT NOT NULL,
	node_type TEXT NOT NULL,
	scope     TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (file, seq)
);
CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);
CREATE TABLE IF NOT EXISTS edges (
	src     TEXT NOT NULL,
	dst     TEXT NOT NULL,
	weight  REAL NOT NULL,
	refs    INTEGER NOT NULL,
	symbols TEXT NOT NULL,
	PRIMARY KEY (src, dst)
);
CREATE TABLE IF NOT EXISTS scores (
	path  TEXT PRIMARY KEY,
	score REAL NOT NULL
);
`

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("no persisted index state")

// DB is the IndexState database.
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
	path string
}

// Open opens or creates the database at path.
func Open(path string, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
		"busy_timeout(5000)",
		"temp_store(MEMORY)",
	} {
		q.Add("_pragma", p)
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, log: logger, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug().Str("path", path).Msg("index database open")
	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	var version string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.conn.Exec(`INSERT INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(schemaVersion))
		if err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != strconv.Itoa(schemaVersion):
		return fmt.Errorf("unsupported schema version %s (want %d); delete %s to rebuild", version, schemaVersion, db.path)
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn in a transaction, committing on success.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.log.Error().Err(rbErr).AnErr("cause", err).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Replace overwrites the stored state with state in one transaction.
func (db *DB) Replace(ctx context.Context, state *model.IndexState) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"tags", "files", "edges", "scores"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := insertFiles(ctx, tx, state.Files); err != nil {
			return err
		}
		return writeDerived(ctx, tx, state)
	})
}

// Delta is an incremental change to the stored state. Files in Upserts
// replace any stored record with the same path; Deletes are removed.
// Edges, scores and metadata are replaced wholesale from State.
type Delta struct {
	Upserts []model.FileRecord
	Deletes []string
	State   *model.IndexState
}

// Apply writes an incremental update in one transaction.
func (db *DB) Apply(ctx context.Context, d Delta) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		del := make([]string, 0, len(d.Deletes)+len(d.Upserts))
		del = append(del, d.Deletes...)
		for i := range d.Upserts {
			del = append(del, d.Upserts[i].Path)
		}
		for _, p := range del {
			if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE file = ?`, p); err != nil {
				return fmt.Errorf("delete tags %s: %w", p, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, p); err != nil {
				return fmt.Errorf("delete file %s: %w", p, err)
			}
		}
		if err := insertFiles(ctx, tx, d.Upserts); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
			return fmt.Errorf("clear edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scores`); err != nil {
			return fmt.Errorf("clear scores: %w", err)
		}
		return writeDerived(ctx, tx, d.State)
	})
}

func insertFiles(ctx context.Context, tx *sql.Tx, files []model.FileRecord) error {
	fileStmt, err := tx.PrepareContext(ctx, `INSERT INTO files(path, language, fingerprint, indexed_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer fileStmt.Close()
	tagStmt, err := tx.PrepareContext(ctx, `INSERT INTO tags(file, seq, line, col, name, kind, node_type, scope, signature) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tags: %w", err)
	}
	defer tagStmt.Close()

	for i := range files {
		f := &files[i]
		if _, err := fileStmt.ExecContext(ctx, f.Path, f.Language, f.Fingerprint, f.IndexedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
		for seq, t := range f.Tags {
			if _, err := tagStmt.ExecContext(ctx, f.Path, seq, t.Line, t.Column, t.Name, string(t.Kind), string(t.NodeType), t.Scope, t.Signature); err != nil {
				return fmt.Errorf("insert tag %s:%d: %w", f.Path, t.Line, err)
			}
		}
	}
	return nil
}

func writeDerived(ctx context.Context, tx *sql.Tx, state *model.IndexState) error {
	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges(src, dst, weight, refs, symbols) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edges: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range state.Edges {
		if _, err := edgeStmt.ExecContext(ctx, e.From, e.To, e.Weight, e.Refs, strings.Join(e.Symbols, " ")); err != nil {
			return fmt.Errorf("insert edge %s -> %s: %w", e.From, e.To, err)
		}
	}

	scoreStmt, err := tx.PrepareContext(ctx, `INSERT INTO scores(path, score) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare scores: %w", err)
	}
	defer scoreStmt.Close()
	paths := make([]string, 0, len(state.Scores))
	for p := range state.Scores {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, err := scoreStmt.ExecContext(ctx, p, state.Scores[p]); err != nil {
			return fmt.Errorf("insert score %s: %w", p, err)
		}
	}

	meta := map[string]string{
		"root":          state.Root,
		"total_files":   strconv.Itoa(state.TotalFiles),
		"total_symbols": strconv.Itoa(state.TotalSymbols),
		"unsupported":   strconv.Itoa(state.Unsupported),
		"indexed_at":    state.IndexedAt.UTC().Format(time.RFC3339Nano),
		"stale":         strconv.FormatBool(state.Stale),
		"partial":       strconv.FormatBool(state.Partial),
		"ignore":        strings.Join(state.Ignore, "\n"),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return nil
}

// IndexedAt returns when the stored state was written, or ErrNoState if no
// build has been persisted.
func (db *DB) IndexedAt(ctx context.Context) (time.Time, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'indexed_at'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoState
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query indexed_at: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse indexed_at: %w", err)
	}
	return t, nil
}

// Load reads the whole stored state. It returns ErrNoState if no build has
// been persisted.
func (db *DB) Load(ctx context.Context) (*model.IndexState, error) {
	meta, err := db.meta(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := meta["indexed_at"]; !ok {
		return nil, ErrNoState
	}

	state := &model.IndexState{
		Root:   meta["root"],
		Scores: make(map[string]float64),
	}
	state.TotalFiles, _ = strconv.Atoi(meta["total_files"])
	state.TotalSymbols, _ = strconv.Atoi(meta["total_symbols"])
	state.Unsupported, _ = strconv.Atoi(meta["unsupported"])
	state.Stale, _ = strconv.ParseBool(meta["stale"])
	state.Partial, _ = strconv.ParseBool(meta["partial"])
	if v := meta["ignore"]; v != "" {
		state.Ignore = strings.Split(v, "\n")
	}
	if state.IndexedAt, err = time.Parse(time.RFC3339Nano, meta["indexed_at"]); err != nil {
		return nil, fmt.Errorf("parse indexed_at: %w", err)
	}

	if state.Files, err = db.loadFiles(ctx); err != nil {
		return nil, err
	}
	if state.Edges, err = db.loadEdges(ctx); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT path, score FROM scores`)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var s float64
		if err := rows.Scan(&p, &s); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		state.Scores[p] = s
	}
	return state, rows.Err()
}

func (db *DB) meta(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (db *DB) loadFiles(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, language, fingerprint, indexed_at FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	var files []model.FileRecord
	index := make(map[string]int)
	for rows.Next() {
		var f model.FileRecord
		var at string
		if err := rows.Scan(&f.Path, &f.Language, &f.Fingerprint, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if f.IndexedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse indexed_at for %s: %w", f.Path, err)
		}
		index[f.Path] = len(files)
		files = append(files, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := db.queryTags(ctx, `SELECT file, line, col, name, kind, node_type, scope, signature FROM tags ORDER BY file, seq`)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if i, ok := index[t.File]; ok {
			files[i].Tags = append(files[i].Tags, t)
		}
	}
	return files, nil
}

func (db *DB) loadEdges(ctx context.Context) ([]model.Edge, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT src, dst, weight, refs, symbols FROM edges ORDER BY src, dst`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()
	var edges []model.Edge
	for rows.Next() {
		var e model.Edge
		var syms string
		if err := rows.Scan(&e.From, &e.To, &e.Weight, &e.Refs, &syms); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Symbols = strings.Fields(syms)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// LookupSymbol returns definitions named name, or whose name contains name
// (case-insensitive) when exact is false.
func (db *DB) LookupSymbol(ctx context.Context, name string, exact bool) ([]model.Tag, error) {
	const cols = `SELECT file, line, col, name, kind, node_type, scope, signature FROM tags`
	if exact {
		return db.queryTags(ctx, cols+` WHERE kind = ? AND name = ? ORDER BY name, file, line`, string(model.Definition), name)
	}
	return db.queryTags(ctx, cols+` WHERE kind = ? AND instr(lower(name), lower(?)) > 0 ORDER BY name, file, line`, string(model.Definition), name)
}

func (db *DB) queryTags(ctx context.Context, query string, args ...any) ([]model.Tag, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		var kind, nodeType string
		if err := rows.Scan(&t.File, &t.Line, &t.Column, &t.Name, &kind, &nodeType, &t.Scope, &t.Signature); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		t.Kind = model.TagKind(kind)
		t.NodeType = model.NodeType(nodeType)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
