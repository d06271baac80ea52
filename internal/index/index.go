package index

import (
	"context"
	"time"

	"github.com/starford/mnemo/internal/models"
)

// Store defines the structured-store operations used by the sync writer,
// the search engine and the freshness controller. Consumers should depend on
// this interface rather than the concrete *DB type.
type Store interface {
	UpsertProject(ctx context.Context, p models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)

	UpsertFile(ctx context.Context, f FileRow) (string, error)
	ReplaceFunctions(ctx context.Context, fileID string, fns []FunctionRow) error
	DeleteFile(ctx context.Context, projectID, path string) error
	GetFile(ctx context.Context, projectID, path string) (*models.File, error)
	FunctionsForFile(ctx context.Context, fileID string) ([]models.Function, error)
	AllFiles(ctx context.Context, projectID string) (map[string]string, error)

	AddObservation(ctx context.Context, o models.Observation) (string, error)
	RecentObservations(ctx context.Context, projectID string, category models.Category, limit int) ([]models.Observation, error)

	SearchFiles(ctx context.Context, query, projectID string, limit int) ([]FileHit, error)
	SearchFunctions(ctx context.Context, pattern, projectID string, limit int) ([]FunctionHit, error)
	SearchObservations(ctx context.Context, query, projectID string, category models.Category, limit int) ([]ObservationHit, error)

	SetLastSync(ctx context.Context, projectID string, at time.Time) error
	LastSync(ctx context.Context, projectID string) (time.Time, error)
	Stats(ctx context.Context, projectID string) (Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
