// Package postgres provides a directory listing backend over the FruitSalade
// metadata database. Listing at a revision reads the file_versions history.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

const (
	headQuery = `SELECT name, is_dir, size, mod_time, hash, version
		 FROM files WHERE parent_path = $1 AND deleted_at IS NULL ORDER BY name`

	// Children as of a point in time: the newest version of each child
	// created at or before the cutoff.
	asOfQuery = `SELECT DISTINCT ON (f.name) f.name, f.is_dir, COALESCE(v.size, f.size), COALESCE(v.created_at, f.mod_time), COALESCE(v.hash, f.hash), COALESCE(v.version, f.version)
		 FROM files f
		 LEFT JOIN file_versions v ON v.path = f.path AND v.created_at <= $2
		 WHERE f.parent_path = $1 AND f.created_at <= $2
		   AND (f.deleted_at IS NULL OR f.deleted_at > $2)
		 ORDER BY f.name, v.version DESC NULLS LAST`
)

// Config holds metadata database settings.
type Config struct {
	DatabaseURL string `json:"database_url"`
}

// Store lists directories from the files table.
type Store struct {
	db *sql.DB
}

// New opens the metadata database.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromJSON creates a Store from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Store, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required")
	}
	return New(ctx, cfg.DatabaseURL)
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// parseRevision turns a revision into a cutoff time. Head returns the zero
// time. Revisions are RFC 3339 timestamps or unix seconds.
func parseRevision(rev remote.Revision) (time.Time, error) {
	if rev.IsHead() {
		return time.Time{}, nil
	}
	s := strings.TrimSpace(string(rev))
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid revision %q: want RFC 3339 time or unix seconds", s)
}

// List queries the children of address.
func (s *Store) List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error {
	cutoff, err := parseRevision(rev)
	if err != nil {
		return err
	}

	start := time.Now()
	var rows *sql.Rows
	if cutoff.IsZero() {
		rows, err = s.db.QueryContext(ctx, headQuery, remote.CleanPath(address))
	} else {
		rows, err = s.db.QueryContext(ctx, asOfQuery, remote.CleanPath(address), cutoff)
	}
	metrics.RecordBackendOperation(s.Type(), "list_dir", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("query %s: %w", address, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       remote.Entry
			isDir   bool
			hash    sql.NullString
			version int
		)
		if err := rows.Scan(&e.Name, &isDir, &e.Size, &e.ModTime, &hash, &version); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		e.Kind = remote.KindFile
		if isDir {
			e.Kind = remote.KindDir
		}
		e.Hash = hash.String
		e.Revision = strconv.Itoa(version)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Type returns "postgres".
func (s *Store) Type() string { return "postgres" }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
