package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
)

// Stats summarises what the store holds for one project.
type Stats struct {
	Files        int `json:"files"`
	Functions    int `json:"functions"`
	Observations int `json:"observations"`
}

// UpsertProject mirrors a configured project into the store so search
// results can carry its display name.
func (db *DB) UpsertProject(ctx context.Context, p models.Project) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO projects (id, display_name, root_path) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			root_path    = excluded.root_path
	`, p.ID, p.DisplayName, p.RootPath)
	return storeErr("upsert project", err)
}

// GetProject returns a project by id.
func (db *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := db.conn.QueryRowContext(ctx, `SELECT id, display_name, root_path FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.DisplayName, &p.RootPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: project %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get project", err)
	}
	return &p, nil
}

// ListProjects returns every known project ordered by id.
func (db *DB) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, display_name, root_path FROM projects ORDER BY id`)
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	defer rows.Close()
	var out []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.RootPath); err != nil {
			return nil, storeErr("scan project", err)
		}
		out = append(out, p)
	}
	return out, storeErr("iterate projects", rows.Err())
}

// SetLastSync records when projectID was last brought in line with its source.
func (db *DB) SetLastSync(ctx context.Context, projectID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (project_id, last_sync_at) VALUES (?, ?)
		ON CONFLICT(project_id) DO UPDATE SET last_sync_at = excluded.last_sync_at
	`, projectID, at.UnixNano())
	return storeErr("set last sync", err)
}

// LastSync returns the last sync time of projectID, or the zero time when the
// project was never synced.
func (db *DB) LastSync(ctx context.Context, projectID string) (time.Time, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT last_sync_at FROM sync_state WHERE project_id = ?`, projectID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeErr("last sync", err)
	}
	return time.Unix(0, n).UTC(), nil
}

// Stats counts the rows held for projectID.
func (db *DB) Stats(ctx context.Context, projectID string) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM files WHERE project_id = ?1),
			(SELECT count(*) FROM functions fn JOIN files f ON f.id = fn.file_id WHERE f.project_id = ?1),
			(SELECT count(*) FROM observations WHERE project_id = ?1)
	`, projectID).Scan(&s.Files, &s.Functions, &s.Observations)
	if err != nil {
		return Stats{}, storeErr("stats", err)
	}
	return s, nil
}
