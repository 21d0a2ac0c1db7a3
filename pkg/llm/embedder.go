package llm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
)

// EmbedderConfig represents the configuration for the embedding model.
type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	BatchSize int
	Timeout   time.Duration
	Normalize bool
	Logger    *zap.Logger
}

// ClientFactory builds the client that talks to the embedding model.
type ClientFactory func(config EmbedderConfig) (embeddings.EmbedderClient, error)

// Embedder turns text into vectors. The model client is created on first use
// and shared by every caller afterwards.
type Embedder struct {
	config  EmbedderConfig
	factory ClientFactory
	logger  *zap.Logger

	mu    sync.Mutex
	embed embeddings.Embedder
}

func OllamaClient(config EmbedderConfig) (embeddings.EmbedderClient, error) {
	return ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
}

func NewEmbedderWithConfig(config EmbedderConfig) *Embedder {
	return NewEmbedderWithFactory(config, OllamaClient)
}

func NewEmbedderWithFactory(config EmbedderConfig, factory ClientFactory) *Embedder {
	// Validate and set default values for config fields if necessary
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Embedder{
		config:  config,
		factory: factory,
		logger:  config.Logger,
	}
}

// model returns the shared embedder, creating it under the lock on first use.
// A failed initialization is not cached so a later call can retry.
func (e *Embedder) model() (embeddings.Embedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.embed != nil {
		return e.embed, nil
	}

	e.logger.Info("initializing embedding model",
		zap.String("model", e.config.Model),
		zap.String("base_url", e.config.BaseURL))

	client, err := e.factory(e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	embed, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(e.config.BatchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	e.embed = embed
	return e.embed, nil
}

func (e *Embedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Timeout > 0 {
		return context.WithTimeout(ctx, e.config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "llm.EmbedDocuments"

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embed, err := e.model()
	if err != nil {
		return nil, types.StoreError(op, err)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vectors, err := embed.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, types.StoreError(op, fmt.Errorf("failed to create embeddings: %w", err))
	}
	if len(vectors) != len(texts) {
		return nil, types.StoreError(op,
			fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts)))
	}

	if e.config.Normalize {
		for i := range vectors {
			vectors[i] = Normalize(vectors[i])
		}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	const op = "llm.EmbedQuery"

	embed, err := e.model()
	if err != nil {
		return nil, types.StoreError(op, err)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vector, err := embed.EmbedQuery(ctx, text)
	if err != nil {
		return nil, types.StoreError(op, fmt.Errorf("failed to create query embedding: %w", err))
	}

	if e.config.Normalize {
		vector = Normalize(vector)
	}
	return vector, nil
}

// Normalize scales v to unit length. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
