// Package catalog stores analysis reports in a SQLite database so that
// functions can be listed and reports retrieved without re-reading the
// compiled files.
package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/sqdis/pipeline"
	"github.com/chazu/sqdis/wire"
)

var log = commonlog.GetLogger("sqdis.catalog")

// ErrFileNotFound indicates the requested file has not been indexed.
var ErrFileNotFound = errors.New("file not found in catalog")

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id          INTEGER PRIMARY KEY,
	path        TEXT NOT NULL UNIQUE,
	sha256      TEXT NOT NULL,
	analysed_at INTEGER NOT NULL,
	failures    INTEGER NOT NULL,
	report      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS functions (
	file_id      INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	name         TEXT NOT NULL,
	source       TEXT NOT NULL,
	instructions INTEGER NOT NULL,
	blocks       INTEGER NOT NULL,
	first_line   INTEGER NOT NULL,
	last_line    INTEGER NOT NULL,
	parameters   INTEGER NOT NULL,
	generator    INTEGER NOT NULL,
	varargs      INTEGER NOT NULL,
	PRIMARY KEY (file_id, seq)
);
CREATE INDEX IF NOT EXISTS functions_name ON functions(name);
`

// File is one indexed compiled file.
type File struct {
	Path       string
	SHA256     string
	AnalysedAt time.Time
	Failures   int
}

// Catalog is a SQLite-backed report store.
type Catalog struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Debugf("opened catalog %s", path)
	return &Catalog{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

// Checksum returns the hex SHA-256 of data, the form stored in the catalog.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store records a report for path, replacing any earlier entry.
func (c *Catalog) Store(ctx context.Context, path string, data []byte, r *pipeline.Report) error {
	blob, err := wire.MarshalReport(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("removing previous entry: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO files (path, sha256, analysed_at, failures, report) VALUES (?, ?, ?, ?, ?)",
		path, Checksum(data), time.Now().Unix(), len(r.Errors), blob,
	)
	if err != nil {
		return fmt.Errorf("saving file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("saving file: %w", err)
	}

	for i, f := range r.Functions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO functions (file_id, seq, name, source, instructions, blocks,
				first_line, last_line, parameters, generator, varargs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, f.Name, f.Source, f.Instructions, f.Blocks,
			f.FirstLine, f.LastLine, f.Parameters, f.Generator, f.VarArgs,
		)
		if err != nil {
			return fmt.Errorf("saving function %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	log.Infof("indexed %s: %d functions", path, len(r.Functions))
	return nil
}

// Files lists indexed files ordered by path.
func (c *Catalog) Files(ctx context.Context) ([]File, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT path, sha256, analysed_at, failures FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		var at int64
		if err := rows.Scan(&f.Path, &f.SHA256, &at, &f.Failures); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		f.AnalysedAt = time.Unix(at, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Lookup returns the catalog entry for path.
func (c *Catalog) Lookup(ctx context.Context, path string) (File, error) {
	f := File{Path: path}
	var at int64
	err := c.db.QueryRowContext(ctx,
		"SELECT sha256, analysed_at, failures FROM files WHERE path = ?", path,
	).Scan(&f.SHA256, &at, &f.Failures)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return File{}, fmt.Errorf("querying file: %w", err)
	}
	f.AnalysedAt = time.Unix(at, 0)
	return f, nil
}

// Report returns the stored report for path.
func (c *Catalog) Report(ctx context.Context, path string) (*pipeline.Report, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, "SELECT report FROM files WHERE path = ?", path).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("querying report: %w", err)
	}
	return wire.UnmarshalReport(blob)
}

// Functions lists the functions stored for path in prototype order.
func (c *Catalog) Functions(ctx context.Context, path string) ([]pipeline.FunctionSummary, error) {
	if _, err := c.Lookup(ctx, path); err != nil {
		return nil, err
	}
	return c.queryFunctions(ctx,
		`SELECT f.name, f.source, f.instructions, f.blocks, f.first_line, f.last_line,
			f.parameters, f.generator, f.varargs
		FROM functions f JOIN files ON files.id = f.file_id
		WHERE files.path = ? ORDER BY f.seq`, path)
}

// FindFunction lists functions with the given qualified name across all
// indexed files, keyed by file path.
func (c *Catalog) FindFunction(ctx context.Context, name string) (map[string]pipeline.FunctionSummary, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT files.path, f.name, f.source, f.instructions, f.blocks, f.first_line, f.last_line,
			f.parameters, f.generator, f.varargs
		FROM functions f JOIN files ON files.id = f.file_id
		WHERE f.name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]pipeline.FunctionSummary)
	for rows.Next() {
		var path string
		var s pipeline.FunctionSummary
		if err := rows.Scan(&path, &s.Name, &s.Source, &s.Instructions, &s.Blocks,
			&s.FirstLine, &s.LastLine, &s.Parameters, &s.Generator, &s.VarArgs); err != nil {
			return nil, fmt.Errorf("scanning function: %w", err)
		}
		out[path] = s
	}
	return out, rows.Err()
}

func (c *Catalog) queryFunctions(ctx context.Context, query string, args ...any) ([]pipeline.FunctionSummary, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()

	var out []pipeline.FunctionSummary
	for rows.Next() {
		var s pipeline.FunctionSummary
		if err := rows.Scan(&s.Name, &s.Source, &s.Instructions, &s.Blocks,
			&s.FirstLine, &s.LastLine, &s.Parameters, &s.Generator, &s.VarArgs); err != nil {
			return nil, fmt.Errorf("scanning function: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes path and its functions from the catalog.
func (c *Catalog) Delete(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return nil
}
