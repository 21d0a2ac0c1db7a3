package search

import (
	"strings"

	"github.com/xhad/verdikt/internal/types"
)

type Mode string

const (
	ModeSimilarity              Mode = "similarity_search"
	ModeSimilarityByVector      Mode = "similarity_search_by_vector"
	ModeSimilarityWithRelevance Mode = "similarity_search_by_vector_with_relevance_scores"
)

// ParseMode maps a mode selector onto a Mode. Empty or unknown selectors
// fall back to ModeSimilarity.
func ParseMode(s string) Mode {
	switch m := Mode(strings.TrimSpace(s)); m {
	case ModeSimilarityByVector, ModeSimilarityWithRelevance:
		return m
	}
	return ModeSimilarity
}

// Query is one of TextQuery, VectorQuery or VectorQueryRaw.
type Query interface {
	mode() Mode
}

// TextQuery embeds Text and ranks by score.
type TextQuery struct {
	Text string
	K    int
}

// VectorQuery ranks by score. Vector is used when set, otherwise Text is embedded.
type VectorQuery struct {
	Text    string
	Vector  []float32
	K       int
	Filters types.Filter
}

// VectorQueryRaw asks the store for raw cosine distances. Text is embedded
// when Vector is nil.
type VectorQueryRaw struct {
	Text    string
	Vector  []float32
	K       int
	Filters types.Filter
}

func (TextQuery) mode() Mode      { return ModeSimilarity }
func (VectorQuery) mode() Mode    { return ModeSimilarityByVector }
func (VectorQueryRaw) mode() Mode { return ModeSimilarityWithRelevance }

// Request is the caller-facing search input.
type Request struct {
	Query   string       `json:"query"`
	Mode    string       `json:"mode,omitempty"`
	TopK    int          `json:"top_k,omitempty"`
	Filters types.Filter `json:"filters,omitempty"`
}

// Build turns a request into its query variant.
func (r Request) Build(defaultK int) Query {
	k := r.TopK
	if k <= 0 {
		k = defaultK
	}
	switch ParseMode(r.Mode) {
	case ModeSimilarityByVector:
		return VectorQuery{Text: r.Query, K: k, Filters: r.Filters}
	case ModeSimilarityWithRelevance:
		return VectorQueryRaw{Text: r.Query, K: k, Filters: r.Filters}
	}
	return TextQuery{Text: r.Query, K: k}
}
