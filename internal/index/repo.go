package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
)

// FileRow carries the metadata written by UpsertFile.
type FileRow struct {
	ProjectID     string
	Path          string
	Summary       string
	Purpose       string
	ComponentName string
	IsComponent   bool
	ContentHash   string
	UpdatedAt     time.Time
}

// FunctionRow is one entry of the list passed to ReplaceFunctions.
type FunctionRow struct {
	Name       string
	LineNumber int
	Kind       string
}

// UpsertFile inserts or overwrites the metadata row for (ProjectID, Path) and
// re-indexes its search terms in one transaction. The row keeps its id across
// updates, and updated_at only moves when the content hash changes.
func (db *DB) UpsertFile(ctx context.Context, f FileRow) (string, error) {
	if f.ProjectID == "" || f.Path == "" {
		return "", fmt.Errorf("index: upsert file: project and path are required: %w", apperr.ErrValidation)
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = db.now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO files (id, project_id, path, summary, purpose, component_name, is_component, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			summary        = excluded.summary,
			purpose        = excluded.purpose,
			component_name = excluded.component_name,
			is_component   = excluded.is_component,
			updated_at     = CASE
				WHEN files.content_hash = excluded.content_hash AND excluded.content_hash != ''
				THEN files.updated_at ELSE excluded.updated_at END,
			content_hash   = excluded.content_hash
		RETURNING id
	`, uuid.New().String(), f.ProjectID, f.Path, f.Summary, f.Purpose, f.ComponentName,
		f.IsComponent, f.ContentHash, f.UpdatedAt.UnixNano()).Scan(&id)
	if err != nil {
		return "", storeErr("upsert file", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_terms WHERE file_id = ?`, id); err != nil {
		return "", storeErr("clear terms", err)
	}
	tf := termFrequencies(f.Path, f.Summary, f.Purpose, f.ComponentName)
	if len(tf) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_terms (file_id, term, tf) VALUES (?, ?, ?)`)
		if err != nil {
			return "", storeErr("prepare term insert", err)
		}
		defer stmt.Close()
		for term, n := range tf {
			if _, err := stmt.ExecContext(ctx, id, term, n); err != nil {
				return "", storeErr("insert term", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", storeErr("commit upsert file", err)
	}
	return id, nil
}

// ReplaceFunctions swaps the complete function list of fileID for fns inside a
// single transaction. If any insert fails the previous list stays intact.
// Function ids derive from (fileID, position, name) so replaying the same list
// is idempotent.
func (db *DB) ReplaceFunctions(ctx context.Context, fileID string, fns []FunctionRow) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM files WHERE id = ?`, fileID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("index: replace functions: file %s: %w", fileID, apperr.ErrNotFound)
	}
	if err != nil {
		return storeErr("lookup file", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE file_id = ?`, fileID); err != nil {
		return storeErr("delete functions", err)
	}
	if len(fns) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO functions (id, file_id, ordinal, name, line_number, kind)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storeErr("prepare function insert", err)
		}
		defer stmt.Close()
		for i, fn := range fns {
			kind := fn.Kind
			if kind == "" {
				kind = "function"
			}
			if _, err := stmt.ExecContext(ctx, functionID(fileID, i, fn.Name), fileID, i, fn.Name, fn.LineNumber, kind); err != nil {
				return storeErr(fmt.Sprintf("insert function %q", fn.Name), err)
			}
		}
	}
	return storeErr("commit functions", tx.Commit())
}

func functionID(fileID string, ordinal int, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d#%s", fileID, ordinal, name))).String()
}

// DeleteFile removes a file row; functions and search terms cascade.
// Deleting an unknown path is a no-op.
func (db *DB) DeleteFile(ctx context.Context, projectID, path string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM files WHERE project_id = ? AND path = ?`, projectID, path)
	return storeErr("delete file", err)
}

// GetFile returns the file row for (projectID, path).
func (db *DB) GetFile(ctx context.Context, projectID, path string) (*models.File, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, project_id, path, summary, purpose, component_name, is_component, content_hash, updated_at
		FROM files WHERE project_id = ? AND path = ?`, projectID, path)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: file %s/%s: %w", projectID, path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get file", err)
	}
	return f, nil
}

// FunctionsForFile returns the function list of fileID in source order.
func (db *DB) FunctionsForFile(ctx context.Context, fileID string) ([]models.Function, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, file_id, name, line_number, kind FROM functions
		WHERE file_id = ? ORDER BY ordinal`, fileID)
	if err != nil {
		return nil, storeErr("functions for file", err)
	}
	defer rows.Close()

	var out []models.Function
	for rows.Next() {
		var fn models.Function
		if err := rows.Scan(&fn.ID, &fn.FileID, &fn.Name, &fn.LineNumber, &fn.Kind); err != nil {
			return nil, storeErr("scan function", err)
		}
		out = append(out, fn)
	}
	return out, storeErr("iterate functions", rows.Err())
}

// AllFiles returns every indexed path of a project with its content hash.
func (db *DB) AllFiles(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, content_hash FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, storeErr("all files", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			return nil, storeErr("scan path", err)
		}
		out[p] = h
	}
	return out, storeErr("iterate files", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(r rowScanner) (*models.File, error) {
	var (
		f       models.File
		updated int64
	)
	if err := r.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Summary, &f.Purpose, &f.ComponentName,
		&f.IsComponent, &f.ContentHash, &updated); err != nil {
		return nil, err
	}
	f.UpdatedAt = time.Unix(0, updated).UTC()
	return &f, nil
}
