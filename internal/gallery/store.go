// Package gallery persists the index of successfully uploaded items in a
// local SQLite database.
package gallery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const dbFileName = "gallery.db"

// Item is one uploaded asset. DeleteMarker is the opaque token the host
// emitted at upload time; empty means remote deletion is not possible and
// only the local row can be removed.
type Item struct {
	ID           int64     `json:"id"`
	FileName     string    `json:"file_name"`
	URL          string    `json:"url"`
	Host         string    `json:"host"`
	DeleteMarker string    `json:"delete_marker,omitempty"`
	InsertedAt   time.Time `json:"inserted_at"`
	Filesize     *int64    `json:"filesize,omitempty"`
}

// NewItem is the insert payload. A zero InsertedAt means now.
type NewItem struct {
	FileName     string
	URL          string
	Host         string
	DeleteMarker string
	InsertedAt   time.Time
	Filesize     *int64
}

// Filter narrows a Query. Zero-valued fields are omitted from the generated
// WHERE clause entirely; callers must leave a field unset rather than pass a
// sentinel.
type Filter struct {
	FileName    string
	Host        string
	StartUTC    *time.Time
	EndUTC      *time.Time
	MinFilesize *int64
	MaxFilesize *int64
}

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the gallery database under dataDir and applies the
// schema, including the filesize column migration for older databases.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open gallery database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		CREATE TABLE IF NOT EXISTS gallery_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT NOT NULL,
			url TEXT NOT NULL,
			host TEXT NOT NULL,
			delete_marker TEXT,
			inserted_at TEXT NOT NULL,
			filesize INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_gallery_host ON gallery_items (host);
		CREATE INDEX IF NOT EXISTS idx_gallery_inserted_at ON gallery_items (inserted_at);
		CREATE INDEX IF NOT EXISTS idx_gallery_file_name ON gallery_items (file_name);
	`)
	if err != nil {
		return fmt.Errorf("failed to apply gallery schema: %w", err)
	}

	// Databases created before the filesize column need it added in place.
	rows, err := db.Query(`PRAGMA table_info(gallery_items)`)
	if err != nil {
		return fmt.Errorf("failed to inspect gallery schema: %w", err)
	}
	defer rows.Close()

	hasFilesize := false
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("failed to scan gallery schema: %w", err)
		}
		if name == "filesize" {
			hasFilesize = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !hasFilesize {
		if _, err := db.Exec(`ALTER TABLE gallery_items ADD COLUMN filesize INTEGER`); err != nil {
			return fmt.Errorf("failed to add filesize column: %w", err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, item NewItem) (Item, error) {
	insertedAt := item.InsertedAt
	if insertedAt.IsZero() {
		insertedAt = time.Now().UTC()
	}

	var marker sql.NullString
	if item.DeleteMarker != "" {
		marker = sql.NullString{String: item.DeleteMarker, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO gallery_items (file_name, url, host, delete_marker, inserted_at, filesize)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.FileName, item.URL, item.Host, marker,
		insertedAt.Format(time.RFC3339), item.Filesize,
	)
	if err != nil {
		return Item{}, fmt.Errorf("failed to insert gallery item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Item{}, fmt.Errorf("failed to read inserted id: %w", err)
	}

	return Item{
		ID:           id,
		FileName:     item.FileName,
		URL:          item.URL,
		Host:         item.Host,
		DeleteMarker: item.DeleteMarker,
		InsertedAt:   insertedAt,
		Filesize:     item.Filesize,
	}, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gallery_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete gallery item %d: %w", id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f Filter) ([]Item, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, file_name, url, host, delete_marker, inserted_at, filesize
		FROM gallery_items WHERE 1=1`)
	var args []any

	if f.FileName != "" {
		sb.WriteString(" AND file_name LIKE ?")
		args = append(args, "%"+f.FileName+"%")
	}
	if f.Host != "" {
		sb.WriteString(" AND host = ?")
		args = append(args, f.Host)
	}
	if f.StartUTC != nil {
		sb.WriteString(" AND inserted_at >= ?")
		args = append(args, f.StartUTC.UTC().Format(time.RFC3339))
	}
	if f.EndUTC != nil {
		sb.WriteString(" AND inserted_at <= ?")
		args = append(args, f.EndUTC.UTC().Format(time.RFC3339))
	}
	if f.MinFilesize != nil {
		sb.WriteString(" AND filesize >= ?")
		args = append(args, *f.MinFilesize)
	}
	if f.MaxFilesize != nil {
		sb.WriteString(" AND filesize <= ?")
		args = append(args, *f.MaxFilesize)
	}
	sb.WriteString(" ORDER BY inserted_at DESC, id DESC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query gallery: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item     Item
			marker   sql.NullString
			inserted string
			filesize sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.FileName, &item.URL, &item.Host, &marker, &inserted, &filesize); err != nil {
			return nil, fmt.Errorf("failed to scan gallery item: %w", err)
		}
		if marker.Valid {
			item.DeleteMarker = marker.String
		}
		if filesize.Valid {
			v := filesize.Int64
			item.Filesize = &v
		}
		ts, err := time.Parse(time.RFC3339, inserted)
		if err != nil {
			s.logger.Warn("gallery item with unparseable timestamp",
				zap.Int64("id", item.ID), zap.String("inserted_at", inserted))
		} else {
			item.InsertedAt = ts
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListHosts returns the distinct host ids present in the gallery, sorted
// case-insensitively.
func (s *Store) ListHosts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT host FROM gallery_items ORDER BY host COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}
	return hosts, rows.Err()
}
