// Package search runs similarity queries and groups the matches by decision.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/store"
	"go.uber.org/zap"
)

// Service answers search requests. Every response ranks by descending score;
// raw distances are converted with score = 1 - distance before grouping.
type Service struct {
	store    types.VectorStore
	embedder types.Embedder
	topK     int
	logger   *zap.Logger
}

func NewService(vs types.VectorStore, embedder types.Embedder, topK int, logger *zap.Logger) *Service {
	if topK <= 0 {
		topK = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: vs, embedder: embedder, topK: topK, logger: logger}
}

func (s *Service) Search(ctx context.Context, req Request) ([]models.DocumentGroup, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, types.InputError("search.Search", "query must not be empty")
	}
	return s.Run(ctx, req.Build(s.topK))
}

// Run executes a query variant and aggregates its matches.
func (s *Service) Run(ctx context.Context, q Query) ([]models.DocumentGroup, error) {
	var (
		hits []models.ScoredChunk
		err  error
	)

	switch q := q.(type) {
	case TextQuery:
		hits, err = s.store.SimilaritySearch(ctx, q.Text, q.K)
	case VectorQuery:
		hits, err = s.store.SimilaritySearchByVector(ctx,
			types.VectorInput{Text: q.Text, Vector: q.Vector}, q.K, q.Filters)
	case VectorQueryRaw:
		hits, err = s.raw(ctx, q)
	default:
		return nil, types.InputError("search.Run", "unsupported query %T", q)
	}
	if err != nil {
		return nil, err
	}

	groups := Aggregate(hits)
	s.logger.Debug("search completed",
		zap.String("mode", string(q.mode())),
		zap.Int("hits", len(hits)),
		zap.Int("groups", len(groups)))
	return groups, nil
}

func (s *Service) raw(ctx context.Context, q VectorQueryRaw) ([]models.ScoredChunk, error) {
	vector := q.Vector
	if vector == nil {
		if s.embedder == nil {
			return nil, types.InputError("search.Run", "vector required")
		}
		var err error
		vector, err = s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, types.StoreError("search.Run", fmt.Errorf("failed to embed query: %w", err))
		}
	}

	results, err := s.store.SimilaritySearchByVectorWithRelevanceScores(ctx, vector, q.K, q.Filters)
	if err != nil {
		return nil, err
	}

	hits := make([]models.ScoredChunk, len(results))
	for i, r := range results {
		hits[i] = models.ScoredChunk{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: r.Metadata,
			Score:    store.DistanceToScore(r.Distance),
		}
	}
	return hits, nil
}

// Aggregate drops hits without a score, groups the rest by document id and
// orders groups by their best score, highest first. Chunks inside a group
// keep their input order.
func Aggregate(hits []models.ScoredChunk) []models.DocumentGroup {
	index := make(map[string]int)
	groups := []models.DocumentGroup{}

	for _, h := range hits {
		if h.Score == nil {
			continue
		}
		docID := h.Metadata.DocumentID
		i, ok := index[docID]
		if !ok {
			i = len(groups)
			index[docID] = i
			groups = append(groups, models.DocumentGroup{DecisionID: docID, MaxScore: *h.Score})
		}
		g := &groups[i]
		g.Chunks = append(g.Chunks, h)
		if *h.Score > g.MaxScore {
			g.MaxScore = *h.Score
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].MaxScore > groups[j].MaxScore
	})
	return groups
}
