package models

// ScoredChunk is a similarity match where a higher score is more relevant.
// Score is nil when the backend returned no distance for the row.
type ScoredChunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    *float64      `json:"similarity_score"`
}

// DistancedChunk is a similarity match carrying the raw cosine distance,
// where a lower distance is more relevant.
type DistancedChunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance *float64      `json:"distance"`
}

// DocumentGroup is one decision in a search response with its matching chunks.
type DocumentGroup struct {
	DecisionID string        `json:"decision_id"`
	MaxScore   float64       `json:"max_score"`
	Chunks     []ScoredChunk `json:"chunks"`
}

// VectorRecord is one stored chunk vector. Upserting an existing ID overwrites it.
type VectorRecord struct {
	ID         string
	Text       string
	ChunkIndex int
	Embedding  []float32
	Metadata   ChunkMetadata
}
