package types

import (
	"context"
	"time"

	"github.com/xhad/verdikt/internal/models"
)

// Core interfaces

// Fetcher downloads the decision page at url.
type Fetcher interface {
	FetchURL(ctx context.Context, decisionID, url string) (models.Document, error)
}

type Chunker interface {
	Split(doc models.Document, meta models.DecisionMetadata) []models.Chunk
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Filter restricts vector queries to chunks whose metadata matches every entry.
type Filter map[string]string

type VectorStore interface {
	Save(ctx context.Context, chunks []models.Chunk, ids []string, decisionID string) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
	SimilaritySearchByVector(ctx context.Context, query VectorInput, k int, filter Filter) ([]models.ScoredChunk, error)
	SimilaritySearchByVectorWithRelevanceScores(ctx context.Context, vector []float32, k int, filter Filter) ([]models.DistancedChunk, error)
	Count(ctx context.Context) (int, error)
	Close()
}

// VectorInput is either a query text or a precomputed embedding.
// When Vector is set, Text is ignored.
type VectorInput struct {
	Text   string
	Vector []float32
}

type Registry interface {
	GetOrCreate(ctx context.Context, decisionID string) (models.DecisionRecord, error)
	Get(ctx context.Context, decisionID string) (models.DecisionRecord, error)
	MarkDone(ctx context.Context, decisionID string, meta models.DecisionMetadata) error
	Close() error
}

type Notifier interface {
	Publish(ctx context.Context, channelKey string, event models.ProgressEvent) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, job models.ProcessingJob, delay time.Duration) error
}
