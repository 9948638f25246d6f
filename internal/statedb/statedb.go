// Package statedb persists the in-memory entity collections in an embedded
// SQLite database.
//
// The database is a cache of application state, not of the workspace: it
// keeps drafts across restarts and lets commands such as status and list
// answer without scanning the workspace. Disk stays the source of truth
// for persisted items and every startup reconciles against it.
//
// Schema:
//   - entities: one row per entity, ordered by position within its kind
//   - blocks: ordered content blocks of each entity
//   - sync_state: the result of the last hydration per kind
package statedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/folio-app/folio/internal/reconcile"
)

// ErrDuplicateOutputID is returned when a collection links two entities to
// the same disk item.
var ErrDuplicateOutputID = errors.New("duplicate output id")

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at path and initializes its schema.
// The caller must call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		local_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		output_id TEXT,  -- NULL for drafts
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		tags TEXT,  -- JSON array
		visibility TEXT NOT NULL DEFAULT '',
		provider_settings TEXT,  -- JSON object
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, local_id)
	);

	CREATE TABLE IF NOT EXISTS blocks (
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		local_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, entity_id, position),
		FOREIGN KEY (kind, entity_id) REFERENCES entities(kind, local_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		kind TEXT PRIMARY KEY,
		workspace TEXT NOT NULL,
		synced_at TEXT NOT NULL,
		added INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_output
	    ON entities(kind, output_id) WHERE output_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(updated_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// SaveCollection replaces the stored collection of kind with entities.
func (db *DB) SaveCollection(ctx context.Context, kind string, entities []*reconcile.Entity) error {
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if e.OutputID == "" {
			continue
		}
		if seen[e.OutputID] {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateOutputID, kind, e.OutputID)
		}
		seen[e.OutputID] = true
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("failed to clear %s collection: %w", kind, err)
	}

	entityStmt, err := tx.PrepareContext(ctx, `
	INSERT INTO entities (
		kind, local_id, position, output_id, title, category, tags,
		visibility, provider_settings, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entity insert: %w", err)
	}
	defer entityStmt.Close()

	blockStmt, err := tx.PrepareContext(ctx, `
	INSERT INTO blocks (kind, entity_id, position, local_id, content, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare block insert: %w", err)
	}
	defer blockStmt.Close()

	for i, e := range entities {
		tagsJSON, err := json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		settingsJSON, err := json.Marshal(e.ProviderSettings)
		if err != nil {
			return fmt.Errorf("failed to marshal provider settings: %w", err)
		}

		_, err = entityStmt.ExecContext(ctx,
			kind,
			e.LocalID,
			i,
			stringToNull(e.OutputID),
			e.Title,
			e.Category,
			string(tagsJSON),
			e.Visibility,
			string(settingsJSON),
			formatTime(e.CreatedAt),
			formatTime(e.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert entity %s: %w", e.LocalID, err)
		}

		for j, b := range e.Blocks {
			if b == nil {
				continue
			}
			_, err := blockStmt.ExecContext(ctx,
				kind, e.LocalID, j, b.LocalID, b.Content,
				formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to insert block %s of %s: %w", b.LocalID, e.LocalID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s collection: %w", kind, err)
	}
	return nil
}

// LoadCollection returns the stored collection of kind in saved order. An
// unknown kind yields an empty collection.
func (db *DB) LoadCollection(ctx context.Context, kind string) ([]*reconcile.Entity, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT local_id, output_id, title, category, tags, visibility,
	       provider_settings, created_at, updated_at
	FROM entities WHERE kind = ? ORDER BY position`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s collection: %w", kind, err)
	}
	defer rows.Close()

	var entities []*reconcile.Entity
	byID := make(map[string]*reconcile.Entity)
	for rows.Next() {
		var (
			e                    reconcile.Entity
			outputID             sql.NullString
			tagsJSON, settings   sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&e.LocalID, &outputID, &e.Title, &e.Category, &tagsJSON,
			&e.Visibility, &settings, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.OutputID = outputID.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &e.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags of %s: %w", e.LocalID, err)
			}
		}
		if settings.Valid && settings.String != "" {
			if err := json.Unmarshal([]byte(settings.String), &e.ProviderSettings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal provider settings of %s: %w", e.LocalID, err)
			}
		}
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)

		entities = append(entities, &e)
		byID[e.LocalID] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}

	blockRows, err := db.conn.QueryContext(ctx, `
	SELECT entity_id, local_id, content, created_at, updated_at
	FROM blocks WHERE kind = ? ORDER BY entity_id, position`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s blocks: %w", kind, err)
	}
	defer blockRows.Close()

	for blockRows.Next() {
		var (
			entityID             string
			b                    reconcile.Block
			createdAt, updatedAt string
		)
		if err := blockRows.Scan(&entityID, &b.LocalID, &b.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		b.CreatedAt = parseTime(createdAt)
		b.UpdatedAt = parseTime(updatedAt)
		if e, ok := byID[entityID]; ok {
			e.Blocks = append(e.Blocks, &b)
		}
	}
	if err := blockRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}

	return entities, nil
}

// SyncRecord is the outcome of one hydration of a kind.
type SyncRecord struct {
	Kind      string
	Workspace string
	SyncedAt  time.Time
	Added     int
	Updated   int
	Removed   int
	Total     int
}

// RecordSync stores rec as the latest sync of its kind.
func (db *DB) RecordSync(ctx context.Context, rec SyncRecord) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_state (kind, workspace, synced_at, added, updated, removed, total)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind) DO UPDATE SET
		workspace = excluded.workspace,
		synced_at = excluded.synced_at,
		added = excluded.added,
		updated = excluded.updated,
		removed = excluded.removed,
		total = excluded.total`,
		rec.Kind, rec.Workspace, formatTime(rec.SyncedAt),
		rec.Added, rec.Updated, rec.Removed, rec.Total,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync of %s: %w", rec.Kind, err)
	}
	return nil
}

// LastSync returns the latest sync of kind, or nil if it never synced.
func (db *DB) LastSync(ctx context.Context, kind string) (*SyncRecord, error) {
	var (
		rec      SyncRecord
		syncedAt string
	)
	err := db.conn.QueryRowContext(ctx, `
	SELECT kind, workspace, synced_at, added, updated, removed, total
	FROM sync_state WHERE kind = ?`, kind).Scan(
		&rec.Kind, &rec.Workspace, &syncedAt,
		&rec.Added, &rec.Updated, &rec.Removed, &rec.Total,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last sync of %s: %w", kind, err)
	}
	rec.SyncedAt = parseTime(syncedAt)
	return &rec, nil
}

// KindCount summarizes a stored collection.
type KindCount struct {
	Kind   string
	Total  int
	Drafts int
}

// Counts returns per-kind entity counts ordered by kind.
func (db *DB) Counts(ctx context.Context) ([]KindCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT kind, COUNT(*), SUM(CASE WHEN output_id IS NULL THEN 1 ELSE 0 END)
	FROM entities GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()

	var counts []KindCount
	for rows.Next() {
		var c KindCount
		if err := rows.Scan(&c.Kind, &c.Total, &c.Drafts); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ListFilter selects entities for List. Zero values match everything.
type ListFilter struct {
	Kind  string
	Since time.Time
	Limit int
}

// Summary is one row of List.
type Summary struct {
	Kind      string
	LocalID   string
	OutputID  string
	Title     string
	UpdatedAt time.Time
	Blocks    int
}

// List returns entity summaries, most recently updated first.
func (db *DB) List(ctx context.Context, filter ListFilter) ([]Summary, error) {
	query := `
	SELECT e.kind, e.local_id, e.output_id, e.title, e.updated_at,
	       (SELECT COUNT(*) FROM blocks b WHERE b.kind = e.kind AND b.entity_id = e.local_id)
	FROM entities e WHERE 1=1`
	var args []interface{}

	if filter.Kind != "" {
		query += " AND e.kind = ?"
		args = append(args, filter.Kind)
	}
	if !filter.Since.IsZero() {
		query += " AND e.updated_at >= ?"
		args = append(args, formatTime(filter.Since))
	}
	query += " ORDER BY e.updated_at DESC, e.kind, e.position"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s         Summary
			outputID  sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&s.Kind, &s.LocalID, &outputID, &s.Title, &updatedAt, &s.Blocks); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		s.OutputID = outputID.String
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Times are stored in UTC with a fixed-width layout so text comparison
// orders them correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
