package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
)

// AddObservation appends an observation and indexes its text. Observations
// are never updated in place.
func (db *DB) AddObservation(ctx context.Context, o models.Observation) (string, error) {
	if strings.TrimSpace(o.Text) == "" {
		return "", fmt.Errorf("index: add observation: empty text: %w", apperr.ErrValidation)
	}
	if !o.Category.Valid() {
		return "", fmt.Errorf("index: add observation: category %q: %w", o.Category, apperr.ErrValidation)
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = db.now()
	}
	if o.Files == nil {
		o.Files = []string{}
	}
	filesJSON, _ := json.Marshal(o.Files)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO observations (id, project_id, session_id, category, body, files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.ProjectID, o.SessionID, string(o.Category), o.Text, string(filesJSON), o.Timestamp.UnixNano())
	if err != nil {
		return "", storeErr("insert observation", err)
	}

	terms := QueryTerms(o.Text)
	if len(terms) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO observation_terms (observation_id, term) VALUES (?, ?)`)
		if err != nil {
			return "", storeErr("prepare observation terms", err)
		}
		defer stmt.Close()
		for _, term := range terms {
			if _, err := stmt.ExecContext(ctx, o.ID, term); err != nil {
				return "", storeErr("insert observation term", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", storeErr("commit observation", err)
	}
	return o.ID, nil
}

// RecentObservations lists observations newest first, optionally narrowed to
// one project and/or category.
func (db *DB) RecentObservations(ctx context.Context, projectID string, category models.Category, limit int) ([]models.Observation, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args := observationFilter(projectID, category)
	q := `SELECT id, project_id, session_id, category, body, files, created_at FROM observations o` +
		where + ` ORDER BY created_at DESC, id LIMIT ?`
	rows, err := db.conn.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, storeErr("recent observations", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, storeErr("scan observation", err)
		}
		out = append(out, *o)
	}
	return out, storeErr("iterate observations", rows.Err())
}

func observationFilter(projectID string, category models.Category) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if projectID != "" {
		conds = append(conds, "o.project_id = ?")
		args = append(args, projectID)
	}
	if category != "" {
		conds = append(conds, "o.category = ?")
		args = append(args, string(category))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanObservation(r rowScanner, extra ...any) (*models.Observation, error) {
	var (
		o         models.Observation
		category  string
		filesJSON string
		created   int64
	)
	dest := append([]any{&o.ID, &o.ProjectID, &o.SessionID, &category, &o.Text, &filesJSON, &created}, extra...)
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	o.Category = models.Category(category)
	o.Timestamp = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(filesJSON), &o.Files); err != nil || o.Files == nil {
		o.Files = []string{}
	}
	return &o, nil
}
