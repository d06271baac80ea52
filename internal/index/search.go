package index

import (
	"context"
	"strings"

	"github.com/starford/mnemo/internal/models"
)

const defaultLimit = 20

// FileHit is a ranked file search match.
type FileHit struct {
	models.File
	ProjectName string `json:"project_name"`
	Score       int    `json:"score"`
}

// FunctionHit is a function match joined with its owning file and project.
type FunctionHit struct {
	models.Function
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	FilePath    string `json:"file_path"`
}

// ObservationHit is a ranked observation match.
type ObservationHit struct {
	models.Observation
	ProjectName string `json:"project_name,omitempty"`
	Matched     int    `json:"matched"`
}

// SearchFiles ranks files of projectID (all projects when empty) by the summed
// term frequency of the query terms over path, summary, purpose and component
// name. Ties go to the most recently updated file.
func (db *DB) SearchFiles(ctx context.Context, query, projectID string, limit int) ([]FileHit, error) {
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	args := make([]any, 0, len(terms)+2)
	for _, t := range terms {
		args = append(args, t)
	}
	q := `
		SELECT f.id, f.project_id, f.path, f.summary, f.purpose, f.component_name,
		       f.is_component, f.content_hash, f.updated_at,
		       COALESCE(p.display_name, ''), SUM(t.tf) AS score
		FROM file_terms t
		JOIN files f ON f.id = t.file_id
		LEFT JOIN projects p ON p.id = f.project_id
		WHERE t.term IN (` + placeholders(len(terms)) + `)`
	if projectID != "" {
		q += ` AND f.project_id = ?`
		args = append(args, projectID)
	}
	q += `
		GROUP BY f.id
		ORDER BY score DESC, f.updated_at DESC, f.path ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("search files", err)
	}
	defer rows.Close()

	var out []FileHit
	for rows.Next() {
		var h FileHit
		f, err := scanFile(scanWith(rows, &h.ProjectName, &h.Score))
		if err != nil {
			return nil, storeErr("scan file hit", err)
		}
		h.File = *f
		out = append(out, h)
	}
	return out, storeErr("iterate file hits", rows.Err())
}

// SearchFunctions returns functions whose name contains pattern
// (case-insensitive), ordered by name.
func (db *DB) SearchFunctions(ctx context.Context, pattern, projectID string, limit int) ([]FunctionHit, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	args := []any{"%" + escapeLike(pattern) + "%"}
	q := `
		SELECT fn.id, fn.file_id, fn.name, fn.line_number, fn.kind,
		       f.project_id, COALESCE(p.display_name, ''), f.path
		FROM functions fn
		JOIN files f ON f.id = fn.file_id
		LEFT JOIN projects p ON p.id = f.project_id
		WHERE fn.name LIKE ? ESCAPE '\'`
	if projectID != "" {
		q += ` AND f.project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY fn.name, f.path, fn.line_number LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("search functions", err)
	}
	defer rows.Close()

	var out []FunctionHit
	for rows.Next() {
		var h FunctionHit
		if err := rows.Scan(&h.ID, &h.FileID, &h.Name, &h.LineNumber, &h.Kind,
			&h.ProjectID, &h.ProjectName, &h.FilePath); err != nil {
			return nil, storeErr("scan function hit", err)
		}
		out = append(out, h)
	}
	return out, storeErr("iterate function hits", rows.Err())
}

// SearchObservations ranks observations by the number of distinct query terms
// they contain, newest first among equals. An empty query lists the most
// recent observations matching the filters.
func (db *DB) SearchObservations(ctx context.Context, query, projectID string, category models.Category, limit int) ([]ObservationHit, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	terms := QueryTerms(query)
	if len(terms) == 0 {
		recent, err := db.RecentObservations(ctx, projectID, category, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]ObservationHit, len(recent))
		for i, o := range recent {
			hits[i] = ObservationHit{Observation: o}
		}
		return db.withObservationProjects(ctx, hits)
	}

	args := make([]any, 0, len(terms)+3)
	for _, t := range terms {
		args = append(args, t)
	}
	q := `
		SELECT o.id, o.project_id, o.session_id, o.category, o.body, o.files, o.created_at,
		       COUNT(*) AS matched
		FROM observation_terms t
		JOIN observations o ON o.id = t.observation_id
		WHERE t.term IN (` + placeholders(len(terms)) + `)`
	if projectID != "" {
		q += ` AND o.project_id = ?`
		args = append(args, projectID)
	}
	if category != "" {
		q += ` AND o.category = ?`
		args = append(args, string(category))
	}
	q += `
		GROUP BY o.id
		ORDER BY matched DESC, o.created_at DESC, o.id
		LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("search observations", err)
	}
	defer rows.Close()

	var out []ObservationHit
	for rows.Next() {
		var h ObservationHit
		o, err := scanObservation(rows, &h.Matched)
		if err != nil {
			return nil, storeErr("scan observation hit", err)
		}
		h.Observation = *o
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate observation hits", err)
	}
	return db.withObservationProjects(ctx, out)
}

// withObservationProjects fills ProjectName for project-scoped observations.
func (db *DB) withObservationProjects(ctx context.Context, hits []ObservationHit) ([]ObservationHit, error) {
	names := make(map[string]string)
	for i := range hits {
		pid := hits[i].ProjectID
		if pid == "" {
			continue
		}
		name, ok := names[pid]
		if !ok {
			if p, err := db.GetProject(ctx, pid); err == nil {
				name = p.DisplayName
			}
			names[pid] = name
		}
		hits[i].ProjectName = name
	}
	return hits, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// scanWith appends extra destinations to a file scan.
type extraScanner struct {
	r     rowScanner
	extra []any
}

func scanWith(r rowScanner, extra ...any) rowScanner {
	return extraScanner{r: r, extra: extra}
}

func (s extraScanner) Scan(dest ...any) error {
	return s.r.Scan(append(dest, s.extra...)...)
}
