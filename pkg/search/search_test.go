package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/search"
	"github.com/xhad/verdikt/pkg/store"
)

func score(v float64) *float64 { return &v }

func hit(doc string, s *float64) models.ScoredChunk {
	return models.ScoredChunk{ID: doc + "_chunk", Metadata: models.ChunkMetadata{DocumentID: doc}, Score: s}
}

func TestAggregate_GroupsAndRanks(t *testing.T) {
	hits := []models.ScoredChunk{
		hit("a", score(0.4)),
		hit("b", score(0.9)),
		hit("a", score(0.7)),
		hit("c", score(0.5)),
		hit("b", score(0.1)),
		hit("a", score(0.2)),
		hit("c", nil),
	}

	groups := search.Aggregate(hits)
	require.Len(t, groups, 3)

	assert.Equal(t, "b", groups[0].DecisionID)
	assert.Equal(t, 0.9, groups[0].MaxScore)
	assert.Len(t, groups[0].Chunks, 2)

	assert.Equal(t, "a", groups[1].DecisionID)
	assert.Equal(t, 0.7, groups[1].MaxScore)
	assert.Len(t, groups[1].Chunks, 3)

	assert.Equal(t, "c", groups[2].DecisionID)
	assert.Len(t, groups[2].Chunks, 1)
}

func TestAggregate_Empty(t *testing.T) {
	groups := search.Aggregate(nil)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)

	groups = search.Aggregate([]models.ScoredChunk{hit("a", nil)})
	assert.Empty(t, groups)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, search.ModeSimilarity, search.ParseMode(""))
	assert.Equal(t, search.ModeSimilarity, search.ParseMode("bogus"))
	assert.Equal(t, search.ModeSimilarityByVector, search.ParseMode("similarity_search_by_vector"))
	assert.Equal(t, search.ModeSimilarityWithRelevance,
		search.ParseMode("similarity_search_by_vector_with_relevance_scores"))
}

func TestRequest_Build(t *testing.T) {
	q := search.Request{Query: "позов", TopK: 5}.Build(20)
	assert.Equal(t, search.TextQuery{Text: "позов", K: 5}, q)

	q = search.Request{Query: "позов", Mode: "similarity_search_by_vector", Filters: types.Filter{"document_id": "1"}}.Build(20)
	assert.Equal(t, search.VectorQuery{Text: "позов", K: 20, Filters: types.Filter{"document_id": "1"}}, q)

	q = search.Request{Query: "позов", Mode: "similarity_search_by_vector_with_relevance_scores"}.Build(20)
	assert.IsType(t, search.VectorQueryRaw{}, q)
}

type axisEmbedder struct{}

// Texts starting with "x" point along the first axis, everything else along the second.
func (axisEmbedder) vec(text string) []float32 {
	if len(text) > 0 && text[0] == 'x' {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func (e axisEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e axisEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vec(text), nil
}

func newService(t *testing.T) *search.Service {
	t.Helper()
	vs := store.New(store.NewMemoryIndex(2), axisEmbedder{}, store.VectorStoreConfig{})
	ctx := context.Background()

	save := func(doc string, texts ...string) {
		chunks := make([]models.Chunk, len(texts))
		ids := make([]string, len(texts))
		for i, text := range texts {
			chunks[i] = models.Chunk{Text: text, Index: i, DocumentID: doc, DecisionNumber: "n/" + doc}
			ids[i] = doc + "_chunk_" + string(rune('0'+i))
		}
		require.NoError(t, vs.Save(ctx, chunks, ids, doc))
	}
	save("1", "x one", "y one")
	save("2", "y two")
	save("3", "x three", "x three again")

	return search.NewService(vs, axisEmbedder{}, 20, nil)
}

func TestService_ModesRankTheSameWay(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for _, mode := range []string{"", "similarity_search_by_vector", "similarity_search_by_vector_with_relevance_scores"} {
		t.Run(string(search.ParseMode(mode)), func(t *testing.T) {
			groups, err := svc.Search(ctx, search.Request{Query: "x marks", Mode: mode})
			require.NoError(t, err)
			require.Len(t, groups, 3)

			assert.Equal(t, "2", groups[2].DecisionID)
			assert.InDelta(t, 1.0, groups[0].MaxScore, 1e-6)
			assert.InDelta(t, 0.0, groups[2].MaxScore, 1e-6)
			for i := 1; i < len(groups); i++ {
				assert.GreaterOrEqual(t, groups[i-1].MaxScore, groups[i].MaxScore)
			}

			chunks := 0
			for _, g := range groups {
				chunks += len(g.Chunks)
			}
			assert.Equal(t, 5, chunks)
		})
	}
}

func TestService_Filters(t *testing.T) {
	svc := newService(t)

	groups, err := svc.Search(context.Background(), search.Request{
		Query:   "x",
		Mode:    "similarity_search_by_vector",
		Filters: types.Filter{"document_id": "3"},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "3", groups[0].DecisionID)
	assert.Len(t, groups[0].Chunks, 2)
}

func TestService_EmptyQuery(t *testing.T) {
	svc := newService(t)

	_, err := svc.Search(context.Background(), search.Request{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, types.KindInput, types.KindOf(err))
}

func TestService_NoMatches(t *testing.T) {
	vs := store.New(store.NewMemoryIndex(2), axisEmbedder{}, store.VectorStoreConfig{})
	svc := search.NewService(vs, axisEmbedder{}, 20, nil)

	groups, err := svc.Search(context.Background(), search.Request{Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, groups)
}
