package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
)

const defaultK = 10

// Index is the storage backend behind a VectorStore. Distances are cosine
// distances; a nil Distance means the backend could not compute one.
type Index interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Nearest(ctx context.Context, vector []float32, k int, filter types.Filter) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Close()
}

type Match struct {
	ID       string
	Text     string
	Metadata models.ChunkMetadata
	Distance *float64
}

type VectorStoreConfig struct {
	BatchSize    int
	QueryTimeout time.Duration
	Logger       *zap.Logger
}

// VectorStore embeds chunks and queries them through an Index. The index is
// initialized on first use, once, even under concurrent first calls.
type VectorStore struct {
	config   VectorStoreConfig
	index    Index
	embedder types.Embedder
	logger   *zap.Logger

	mu    sync.Mutex
	ready bool
}

func New(index Index, embedder types.Embedder, config VectorStoreConfig) *VectorStore {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &VectorStore{
		config:   config,
		index:    index,
		embedder: embedder,
		logger:   config.Logger,
	}
}

func (vs *VectorStore) ensure(ctx context.Context) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.ready {
		return nil
	}
	if err := vs.index.Init(ctx); err != nil {
		return err
	}
	vs.ready = true
	return nil
}

func (vs *VectorStore) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if vs.config.QueryTimeout > 0 {
		return context.WithTimeout(ctx, vs.config.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// Save embeds the chunk texts and upserts one vector per chunk under ids.
// Re-saving the same ids overwrites the previous vectors.
func (vs *VectorStore) Save(ctx context.Context, chunks []models.Chunk, ids []string, decisionID string) error {
	const op = "store.Save"

	if len(chunks) != len(ids) {
		return types.StoreError(op, fmt.Errorf("got %d ids for %d chunks", len(ids), len(chunks)))
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := vs.ensure(ctx); err != nil {
		return types.StoreError(op, err)
	}

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := vs.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return types.StoreError(op, err)
		}

		records := make([]models.VectorRecord, len(batch))
		for i, c := range batch {
			records[i] = models.VectorRecord{
				ID:         ids[start+i],
				Text:       c.Text,
				ChunkIndex: c.Index,
				Embedding:  vectors[i],
				Metadata:   c.Metadata(),
			}
		}
		if err := vs.index.Upsert(ctx, records); err != nil {
			return types.StoreError(op, err)
		}
	}

	vs.logger.Info("decision added to vector storage",
		zap.String("decision_id", decisionID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// SimilaritySearch embeds query and returns matches ranked by descending
// score, where score = 1 - cosine distance.
func (vs *VectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	return vs.SimilaritySearchByVector(ctx, types.VectorInput{Text: query}, k, nil)
}

// SimilaritySearchByVector accepts a precomputed vector or a text to embed.
// Ranking and scores are the same as SimilaritySearch.
func (vs *VectorStore) SimilaritySearchByVector(ctx context.Context, query types.VectorInput, k int, filter types.Filter) ([]models.ScoredChunk, error) {
	const op = "store.SimilaritySearchByVector"

	vector := query.Vector
	if vector == nil {
		var err error
		vector, err = vs.embedder.EmbedQuery(ctx, query.Text)
		if err != nil {
			return nil, types.StoreError(op, err)
		}
	}

	matches, err := vs.nearest(ctx, vector, k, filter)
	if err != nil {
		return nil, types.StoreError(op, err)
	}

	results := make([]models.ScoredChunk, 0, len(matches))
	for _, m := range matches {
		results = append(results, models.ScoredChunk{
			ID:       m.ID,
			Text:     m.Text,
			Metadata: m.Metadata,
			Score:    DistanceToScore(m.Distance),
		})
	}
	return results, nil
}

// SimilaritySearchByVectorWithRelevanceScores returns the raw cosine distance
// of every match. Unlike the other modes, lower values are more relevant and
// results are ordered by ascending distance.
func (vs *VectorStore) SimilaritySearchByVectorWithRelevanceScores(ctx context.Context, vector []float32, k int, filter types.Filter) ([]models.DistancedChunk, error) {
	const op = "store.SimilaritySearchByVectorWithRelevanceScores"

	matches, err := vs.nearest(ctx, vector, k, filter)
	if err != nil {
		return nil, types.StoreError(op, err)
	}

	results := make([]models.DistancedChunk, 0, len(matches))
	for _, m := range matches {
		results = append(results, models.DistancedChunk{
			ID:       m.ID,
			Text:     m.Text,
			Metadata: m.Metadata,
			Distance: m.Distance,
		})
	}
	return results, nil
}

func (vs *VectorStore) nearest(ctx context.Context, vector []float32, k int, filter types.Filter) ([]Match, error) {
	if k <= 0 {
		k = defaultK
	}
	if err := vs.ensure(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := vs.queryContext(ctx)
	defer cancel()

	vs.logger.Debug("nearest neighbour query", zap.Int("k", k), zap.Int("filters", len(filter)))
	return vs.index.Nearest(ctx, vector, k, filter)
}

func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	if err := vs.ensure(ctx); err != nil {
		return 0, types.StoreError("store.Count", err)
	}
	n, err := vs.index.Count(ctx)
	if err != nil {
		return 0, types.StoreError("store.Count", err)
	}
	return n, nil
}

func (vs *VectorStore) Close() {
	vs.logger.Info("closing vector store")
	vs.index.Close()
}

// DistanceToScore converts a cosine distance into a similarity score.
func DistanceToScore(distance *float64) *float64 {
	if distance == nil {
		return nil
	}
	score := 1 - *distance
	return &score
}
