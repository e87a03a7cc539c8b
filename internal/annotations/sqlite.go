package annotations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotations (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	content           TEXT NOT NULL,
	selector          TEXT NOT NULL,
	selector_fallback TEXT NOT NULL DEFAULT '',
	x                 REAL NOT NULL,
	y                 REAL NOT NULL,
	relative_x        REAL NOT NULL,
	relative_y        REAL NOT NULL,
	device_context    TEXT NOT NULL,
	resolved          INTEGER NOT NULL DEFAULT 0,
	author_id         TEXT NOT NULL,
	parent_id         TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_url ON annotations(url);
CREATE INDEX IF NOT EXISTS idx_annotations_parent ON annotations(parent_id);
`

// SQLiteStore persists annotations in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the annotation database at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, a *Annotation) error {
	device, err := sonic.MarshalString(a.Device)
	if err != nil {
		return fmt.Errorf("failed to encode device context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotations
			(id, url, content, selector, selector_fallback, x, y,
			 relative_x, relative_y, device_context, resolved,
			 author_id, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Content, a.Selector, a.SelectorFallback, a.X, a.Y,
		a.RelativeX, a.RelativeY, device, a.Resolved,
		a.AuthorID, a.ParentID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert annotation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Annotation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM annotations WHERE id = ?`, id)
	a, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context, params ListParams) ([]*Annotation, error) {
	query := selectColumns + ` FROM annotations WHERE 1=1`
	args := []interface{}{}

	if params.URL != "" {
		query += ` AND url = ?`
		args = append(args, params.URL)
	}
	if params.Search != "" {
		query += ` AND content LIKE ?`
		args = append(args, "%"+params.Search+"%")
	}
	if params.Since != nil {
		query += ` AND created_at > ?`
		args = append(args, *params.Since)
	}
	if params.Resolved != nil {
		query += ` AND resolved = ?`
		args = append(args, *params.Resolved)
	}
	if len(params.Breakpoints) > 0 {
		query += ` AND json_extract(device_context, '$.breakpoint') IN (?` +
			strings.Repeat(", ?", len(params.Breakpoints)-1) + `)`
		for _, bp := range params.Breakpoints {
			args = append(args, string(bp))
		}
	}
	if params.DeviceWidth != nil {
		// Same tolerance the tracker applies when gating markers.
		query += ` AND ABS(CAST(json_extract(device_context, '$.width') AS INTEGER) - ?) <= 100`
		args = append(args, *params.DeviceWidth)
	}

	query += ` ORDER BY created_at DESC`
	if params.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, params.Limit, params.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	var out []*Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, a *Annotation) error {
	device, err := sonic.MarshalString(a.Device)
	if err != nil {
		return fmt.Errorf("failed to encode device context: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE annotations SET
			content = ?, selector = ?, selector_fallback = ?, x = ?, y = ?,
			relative_x = ?, relative_y = ?, device_context = ?, resolved = ?,
			updated_at = ?
		WHERE id = ?`,
		a.Content, a.Selector, a.SelectorFallback, a.X, a.Y,
		a.RelativeX, a.RelativeY, device, a.Resolved,
		a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update annotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ? OR parent_id = ?`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, url, content, selector, selector_fallback, x, y,
	       relative_x, relative_y, device_context, resolved,
	       author_id, parent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnnotation(row rowScanner) (*Annotation, error) {
	var a Annotation
	var device string
	var createdAt, updatedAt time.Time

	err := row.Scan(&a.ID, &a.URL, &a.Content, &a.Selector, &a.SelectorFallback,
		&a.X, &a.Y, &a.RelativeX, &a.RelativeY, &device, &a.Resolved,
		&a.AuthorID, &a.ParentID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := sonic.UnmarshalString(device, &a.Device); err != nil {
		return nil, fmt.Errorf("failed to decode device context: %w", err)
	}
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return &a, nil
}
