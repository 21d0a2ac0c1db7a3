package models

// Document is a fetched and normalized decision page.
type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a bounded span of a document's normalized text. Start and End are
// rune offsets into the source content.
type Chunk struct {
	Text           string
	Index          int
	Start          int
	End            int
	DocumentID     string
	DecisionNumber string
}

// ChunkMetadata is the payload metadata kept next to every stored vector.
type ChunkMetadata struct {
	DocumentID     string `json:"document_id"`
	DecisionNumber string `json:"decision_number"`
}

func (c Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{DocumentID: c.DocumentID, DecisionNumber: c.DecisionNumber}
}
