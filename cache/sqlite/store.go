// Package sqlite provides a SQLite-backed cache.Storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/jonwraymond/offlinecache/cache"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	generation_id INTEGER NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
	req_key       TEXT NOT NULL,
	status        INTEGER NOT NULL,
	header        TEXT NOT NULL,
	body          BLOB,
	url           TEXT NOT NULL DEFAULT '',
	UNIQUE (generation_id, req_key)
);
`

// Storage persists cache generations in SQLite.
type Storage struct {
	sqlDB  *sql.DB
	closed atomic.Bool
}

const pragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// dsn builds a file: URI for path. The path is percent-encoded so '?',
// '#' and '%' in file names survive URI parsing.
func dsn(path string) string {
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(filepath.Clean(path)),
		OmitHost: true,
		RawQuery: pragmas,
	}
	return u.String()
}

// Open opens a SQLite cache store at path and applies the schema.
func Open(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writes and keeps per-key puts atomic.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	if s.closed.Swap(true) {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil || s.closed.Load() {
		return cache.ErrClosed
	}
	return nil
}

// Open returns the named generation, creating it if absent.
func (s *Storage) Open(ctx context.Context, name string) (cache.Generation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if err := cache.ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO generations (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name,
	); err != nil {
		return nil, fmt.Errorf("open generation %q: %w", name, err)
	}
	return &Generation{store: s, name: name}, nil
}

// Has reports whether the named generation exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var id int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM generations WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup generation %q: %w", name, err)
	}
	return true, nil
}

// Keys lists generation names in creation order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM generations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return names, nil
}

// Delete removes the named generation and its entries in one transaction.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE generation_id IN (SELECT id FROM generations WHERE name = ?)`, name,
	); err != nil {
		return false, fmt.Errorf("delete entries of %q: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete generation %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete generation %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return affected > 0, nil
}

// Generation is a handle to one named generation in Storage.
// A handle whose generation was deleted matches nothing and drops puts.
type Generation struct {
	store *Storage
	name  string
}

// Name returns the generation name.
func (g *Generation) Name() string {
	return g.name
}

// Match returns the stored response for req.
func (g *Generation) Match(ctx context.Context, req cache.Request) (*cache.Response, bool, error) {
	if err := g.store.ready(ctx); err != nil {
		return nil, false, err
	}
	if !req.IsGet() {
		return nil, false, nil
	}
	key, err := cache.Key(req)
	if err != nil {
		return nil, false, err
	}

	var (
		status int
		header string
		body   []byte
		url    string
	)
	err = g.store.sqlDB.QueryRowContext(ctx, `
		SELECT e.status, e.header, e.body, e.url
		FROM entries e JOIN generations g ON g.id = e.generation_id
		WHERE g.name = ? AND e.req_key = ?`, g.name, key,
	).Scan(&status, &header, &body, &url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("match %s: %w", key, err)
	}

	resp := &cache.Response{Status: status, Body: body, URL: url}
	if header != "" {
		var h http.Header
		if err := json.Unmarshal([]byte(header), &h); err != nil {
			return nil, false, fmt.Errorf("decode header for %s: %w", key, err)
		}
		resp.Header = h
	}
	return resp, true, nil
}

// Put upserts resp under the identity of req.
func (g *Generation) Put(ctx context.Context, req cache.Request, resp *cache.Response) error {
	if err := g.store.ready(ctx); err != nil {
		return err
	}
	if resp == nil {
		return cache.ErrNilResponse
	}
	key, err := cache.Key(req)
	if err != nil {
		return err
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header for %s: %w", key, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	_, err = g.store.sqlDB.ExecContext(ctx, `
		INSERT INTO entries (generation_id, req_key, status, header, body, url)
		SELECT id, ?, ?, ?, ?, ? FROM generations WHERE name = ?
		ON CONFLICT(generation_id, req_key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body   = excluded.body,
			url    = excluded.url`,
		key, resp.Status, string(header), body, resp.URL, g.name,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Keys lists stored requests in insertion order.
func (g *Generation) Keys(ctx context.Context) ([]cache.Request, error) {
	if err := g.store.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := g.store.sqlDB.QueryContext(ctx, `
		SELECT e.req_key
		FROM entries e JOIN generations g ON g.id = e.generation_id
		WHERE g.name = ? ORDER BY e.id`, g.name)
	if err != nil {
		return nil, fmt.Errorf("list entries of %q: %w", g.name, err)
	}
	defer rows.Close()

	reqs := make([]cache.Request, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		reqs = append(reqs, cache.RequestFromKey(key))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return reqs, nil
}

// Delete removes the entry for req. Idempotent.
func (g *Generation) Delete(ctx context.Context, req cache.Request) (bool, error) {
	if err := g.store.ready(ctx); err != nil {
		return false, err
	}
	if !req.IsGet() {
		return false, nil
	}
	key, err := cache.Key(req)
	if err != nil {
		return false, err
	}
	res, err := g.store.sqlDB.ExecContext(ctx, `
		DELETE FROM entries
		WHERE req_key = ? AND generation_id IN (SELECT id FROM generations WHERE name = ?)`,
		key, g.name)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return affected > 0, nil
}

// Ensure Storage implements cache.Storage
var _ cache.Storage = (*Storage)(nil)

// Ensure Generation implements cache.Generation
var _ cache.Generation = (*Generation)(nil)
