package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/storage"
)

const (
	defaultBatchSize = 32
	defaultTopK      = 10
)

// Document is one text to embed, keyed by its project-relative path. Hash is
// the content hash of the source the text was built from.
type Document struct {
	Path string
	Text string
	Hash string
}

// RejectedError lists documents whose text produced no usable vector. The
// rest of the write was applied.
type RejectedError struct {
	Paths []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("embedding: no embeddable content in %s", strings.Join(e.Paths, ", "))
}

func (e *RejectedError) Unwrap() error { return apperr.ErrValidation }

// Match is one nearest-neighbour result.
type Match struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Options tunes provider batching.
type Options struct {
	BatchSize   int
	Concurrency int
	// Timeout bounds each provider call. Zero means no extra bound.
	Timeout time.Duration
}

// Index holds one embedding snapshot per project. Readers grab the current
// snapshot pointer and scan it without locks; writers are serialised and
// publish a fresh snapshot only after it is persisted, so a failed write
// leaves the previous set queryable.
type Index struct {
	provider Provider
	store    storage.Provider
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	snaps map[string]*snapshot

	writeMu sync.Mutex
}

// New returns an Index persisting snapshots through store.
func New(p Provider, store storage.Provider, opts Options, logger *slog.Logger) *Index {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		provider: p,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		snaps:    make(map[string]*snapshot),
	}
}

// Build embeds docs and replaces the project's whole embedding set. Records
// of the keep paths are carried over from the current set unchanged.
func (ix *Index) Build(ctx context.Context, projectID string, docs []Document, keep ...string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	vecs, err := ix.embedAll(ctx, texts(docs))
	if err != nil {
		return fmt.Errorf("embedding: build %s: %w", projectID, err)
	}

	now := ix.now().UTC()
	s := &snapshot{
		Version:   snapshotVersion,
		Model:     ix.provider.Model(),
		Dimension: ix.provider.Dimension(),
		UpdatedAt: now,
		Files:     make(map[string]record, len(docs)+len(keep)),
	}
	if d := firstDimension(vecs); d > 0 {
		s.Dimension = d
	}
	var rejected []string
	for i, d := range docs {
		if vecs[i] == nil {
			rejected = append(rejected, d.Path)
			continue
		}
		if len(vecs[i]) != s.Dimension {
			return fmt.Errorf("embedding: build %s: %s has dimension %d, want %d: %w",
				projectID, d.Path, len(vecs[i]), s.Dimension, apperr.ErrProvider)
		}
		s.Files[d.Path] = record{Embedding: vecs[i], Text: excerpt(d.Text), Hash: d.Hash, UpdatedAt: now}
	}
	if len(keep) > 0 {
		if cur, err := ix.current(projectID); err == nil && cur != nil {
			for _, p := range keep {
				if r, ok := cur.Files[p]; ok && len(r.Embedding) == s.Dimension {
					s.Files[p] = r
				}
			}
		}
	}

	if err := ix.publish(projectID, s); err != nil {
		return err
	}
	ix.logger.Info("embedding: built",
		slog.String("project", projectID),
		slog.Int("files", len(s.Files)),
		slog.Int("dimension", s.Dimension))
	return rejectedErr(rejected)
}

// UpsertOne embeds a single document into the project's set.
func (ix *Index) UpsertOne(ctx context.Context, projectID, path, text string) error {
	return ix.UpsertMany(ctx, projectID, []Document{{Path: path, Text: text}})
}

// UpsertMany embeds docs in batches and merges them into the project's set.
// A rejected document loses any vector it had, since that vector describes
// older content.
func (ix *Index) UpsertMany(ctx context.Context, projectID string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	cur, err := ix.current(projectID)
	if err != nil {
		return err
	}

	vecs, err := ix.embedAll(ctx, texts(docs))
	if err != nil {
		return fmt.Errorf("embedding: upsert %s: %w", projectID, err)
	}

	var next *snapshot
	if cur == nil {
		next = &snapshot{
			Version:   snapshotVersion,
			Model:     ix.provider.Model(),
			Dimension: firstDimension(vecs),
			Files:     make(map[string]record, len(docs)),
		}
	} else {
		next = cur.clone()
		if len(next.Files) == 0 && next.Dimension == 0 {
			next.Dimension = firstDimension(vecs)
		}
	}

	now := ix.now().UTC()
	var rejected []string
	for i, d := range docs {
		if vecs[i] == nil {
			rejected = append(rejected, d.Path)
			delete(next.Files, d.Path)
			continue
		}
		if len(vecs[i]) != next.Dimension {
			return fmt.Errorf("embedding: upsert %s/%s: dimension %d, index has %d: %w",
				projectID, d.Path, len(vecs[i]), next.Dimension, apperr.ErrValidation)
		}
		next.Files[d.Path] = record{Embedding: vecs[i], Text: excerpt(d.Text), Hash: d.Hash, UpdatedAt: now}
	}
	if len(rejected) == len(docs) && (cur == nil || len(cur.Files) == len(next.Files)) {
		return rejectedErr(rejected)
	}
	next.UpdatedAt = now

	if err := ix.publish(projectID, next); err != nil {
		return err
	}
	ix.logger.Debug("embedding: upserted",
		slog.String("project", projectID),
		slog.Int("count", len(docs)-len(rejected)))
	return rejectedErr(rejected)
}

// Remove drops path from the project's set. Unknown paths are a no-op.
func (ix *Index) Remove(ctx context.Context, projectID, path string) error {
	return ix.RemoveMany(ctx, projectID, []string{path})
}

// RemoveMany drops every listed path in one snapshot write.
func (ix *Index) RemoveMany(ctx context.Context, projectID string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	cur, err := ix.current(projectID)
	if err != nil || cur == nil {
		return err
	}
	var next *snapshot
	for _, p := range paths {
		if _, ok := cur.Files[p]; !ok {
			continue
		}
		if next == nil {
			next = cur.clone()
		}
		delete(next.Files, p)
	}
	if next == nil {
		return nil
	}
	next.UpdatedAt = ix.now().UTC()
	return ix.publish(projectID, next)
}

// Query embeds text and returns the topK closest documents.
func (ix *Index) Query(ctx context.Context, projectID, text string, topK int) ([]Match, error) {
	s, err := ix.current(projectID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("embedding: no index for %s: %w", projectID, apperr.ErrNotFound)
	}

	vecs, err := ix.embedAll(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding: query %s: %w", projectID, err)
	}
	q := vecs[0]
	if q == nil {
		return nil, fmt.Errorf("embedding: query %s: no embeddable content: %w", projectID, apperr.ErrValidation)
	}
	if len(q) != s.Dimension {
		return nil, fmt.Errorf("embedding: query %s: dimension %d, index has %d: %w",
			projectID, len(q), s.Dimension, apperr.ErrValidation)
	}
	return scan(s, q, "", topK), nil
}

// FindSimilar returns the topK documents closest to the stored vector of
// path, excluding path itself.
func (ix *Index) FindSimilar(ctx context.Context, projectID, path string, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := ix.current(projectID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("embedding: no index for %s: %w", projectID, apperr.ErrNotFound)
	}
	rec, ok := s.Files[path]
	if !ok {
		return nil, fmt.Errorf("embedding: %s/%s not indexed: %w", projectID, path, apperr.ErrNotFound)
	}
	return scan(s, rec.Embedding, path, topK), nil
}

// LastBuild returns when the project's set was last written, or the zero
// time when it has none.
func (ix *Index) LastBuild(projectID string) (time.Time, error) {
	s, err := ix.current(projectID)
	if err != nil || s == nil {
		return time.Time{}, err
	}
	return s.UpdatedAt, nil
}

// Count returns the number of embedded documents of a project.
func (ix *Index) Count(projectID string) (int, error) {
	s, err := ix.current(projectID)
	if err != nil || s == nil {
		return 0, err
	}
	return len(s.Files), nil
}

// Has reports whether path has a stored vector.
func (ix *Index) Has(projectID, path string) (bool, error) {
	s, err := ix.current(projectID)
	if err != nil || s == nil {
		return false, err
	}
	_, ok := s.Files[path]
	return ok, nil
}

// Record returns the stored vector and text excerpt of path.
func (ix *Index) Record(projectID, path string) (models.EmbeddingRecord, error) {
	s, err := ix.current(projectID)
	if err != nil {
		return models.EmbeddingRecord{}, err
	}
	if s == nil {
		return models.EmbeddingRecord{}, fmt.Errorf("embedding: no index for %s: %w", projectID, apperr.ErrNotFound)
	}
	r, ok := s.Files[path]
	if !ok {
		return models.EmbeddingRecord{}, fmt.Errorf("embedding: %s/%s not indexed: %w", projectID, path, apperr.ErrNotFound)
	}
	return models.EmbeddingRecord{
		Path:              path,
		Vector:            append([]float32(nil), r.Embedding...),
		SourceTextExcerpt: r.Text,
		ContentHash:       r.Hash,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

// Hashes maps each embedded path of a project to the content hash its
// vector was built from. Vectors written without a hash map to "".
func (ix *Index) Hashes(projectID string) (map[string]string, error) {
	s, err := ix.current(projectID)
	if err != nil || s == nil {
		return map[string]string{}, err
	}
	out := make(map[string]string, len(s.Files))
	for p, r := range s.Files {
		out[p] = r.Hash
	}
	return out, nil
}

// current returns the published snapshot, loading it from disk on first use.
// A nil snapshot means the project has no index yet.
func (ix *Index) current(projectID string) (*snapshot, error) {
	ix.mu.RLock()
	s, ok := ix.snaps[projectID]
	ix.mu.RUnlock()
	if ok {
		return s, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if s, ok := ix.snaps[projectID]; ok {
		return s, nil
	}
	s, err := loadSnapshot(ix.store, projectID)
	if err != nil {
		return nil, err
	}
	ix.snaps[projectID] = s
	return s, nil
}

func (ix *Index) publish(projectID string, s *snapshot) error {
	if err := saveSnapshot(ix.store, projectID, s); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.snaps[projectID] = s
	ix.mu.Unlock()
	return nil
}

// embedAll embeds texts in batches with bounded concurrency and returns unit
// vectors in input order. A text whose vector is all zeros gets a nil entry.
func (ix *Index) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)

	for start := 0; start < len(texts); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(texts))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := ix.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			for i, v := range vecs {
				if normalize(v) {
					out[start+i] = v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ix *Index) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if ix.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.opts.Timeout)
		defer cancel()
	}
	vecs, err := ix.provider.EmbedBatch(ctx, texts)
	if err != nil {
		if !errors.Is(err, apperr.ErrProvider) {
			err = providerErr(ix.provider.Model(), err)
		}
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, providerErr(ix.provider.Model(), fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
	}
	return vecs, nil
}

// scan ranks every stored vector against q. Ties are broken by path so the
// order is deterministic.
func scan(s *snapshot, q []float32, exclude string, topK int) []Match {
	if topK <= 0 {
		topK = defaultTopK
	}
	out := make([]Match, 0, len(s.Files))
	for p, r := range s.Files {
		if p == exclude {
			continue
		}
		out = append(out, Match{Path: p, Score: dot(q, r.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func texts(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

func firstDimension(vecs [][]float32) int {
	for _, v := range vecs {
		if v != nil {
			return len(v)
		}
	}
	return 0
}

func rejectedErr(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return &RejectedError{Paths: paths}
}
