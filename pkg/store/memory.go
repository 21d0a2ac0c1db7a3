package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
)

const vectorKeyPrefix = "vector:"

// MemoryIndex is a process-local index using brute-force cosine distance.
// When opened with OpenMemoryIndex every upsert is also written to a badger
// database, and Init reloads it.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]models.VectorRecord
	db        *badger.DB
}

// NewMemoryIndex creates an empty, unpersisted index. A dimension of 0
// accepts the dimension of the first upserted vector.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{dimension: dimension}
}

// OpenMemoryIndex opens (or creates) the snapshot database at path.
func OpenMemoryIndex(path string, dimension int) (*MemoryIndex, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector snapshot: %w", err)
	}
	return &MemoryIndex{dimension: dimension, db: db}, nil
}

func (ix *MemoryIndex) Init(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.records != nil {
		return nil
	}
	ix.records = make(map[string]models.VectorRecord)
	if ix.db == nil {
		return nil
	}
	return ix.load()
}

func (ix *MemoryIndex) load() error {
	return ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.VectorRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to load vector %s: %w", it.Item().Key(), err)
			}
			if ix.dimension == 0 {
				ix.dimension = len(rec.Embedding)
			}
			if len(rec.Embedding) != ix.dimension {
				return fmt.Errorf("stored vector %s has dimension %d, want %d",
					rec.ID, len(rec.Embedding), ix.dimension)
			}
			ix.records[rec.ID] = rec
		}
		return nil
	})
}

func (ix *MemoryIndex) persist(records []models.VectorRecord) error {
	wb := ix.db.NewWriteBatch()
	defer wb.Cancel()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal vector %s: %w", rec.ID, err)
		}
		if err := wb.Set([]byte(vectorKeyPrefix+rec.ID), data); err != nil {
			return fmt.Errorf("failed to persist vector %s: %w", rec.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to persist vectors: %w", err)
	}
	return nil
}

func (ix *MemoryIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.records == nil {
		return fmt.Errorf("memory index is not initialized")
	}

	dimension := ix.dimension
	for _, rec := range records {
		if dimension == 0 {
			dimension = len(rec.Embedding)
		}
		if len(rec.Embedding) != dimension {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, want %d",
				rec.ID, len(rec.Embedding), dimension)
		}
	}
	if ix.db != nil {
		if err := ix.persist(records); err != nil {
			return err
		}
	}
	ix.dimension = dimension
	for _, rec := range records {
		rec.Embedding = append([]float32(nil), rec.Embedding...)
		ix.records[rec.ID] = rec
	}
	return nil
}

func (ix *MemoryIndex) Nearest(ctx context.Context, vector []float32, k int, filter types.Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches := make([]Match, 0, len(ix.records))
	for _, rec := range ix.records {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Distance: cosineDistance(rec.Embedding, vector),
		})
	}

	// Ascending distance, unknown distances last, ties by id.
	sort.Slice(matches, func(i, j int) bool {
		di, dj := matches[i].Distance, matches[j].Distance
		switch {
		case di == nil && dj == nil:
			return matches[i].ID < matches[j].ID
		case di == nil:
			return false
		case dj == nil:
			return true
		case *di != *dj:
			return *di < *dj
		}
		return matches[i].ID < matches[j].ID
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (ix *MemoryIndex) Count(ctx context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records), nil
}

func (ix *MemoryIndex) Close() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db != nil {
		ix.db.Close()
		ix.db = nil
	}
}

func matchesFilter(meta models.ChunkMetadata, filter types.Filter) bool {
	for key, want := range filter {
		var got string
		switch key {
		case "document_id":
			got = meta.DocumentID
		case "decision_number":
			got = meta.DecisionNumber
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 - cos(a, b), or nil when either vector has zero
// length or the dimensions differ.
func cosineDistance(a, b []float32) *float64 {
	if len(a) != len(b) || len(a) == 0 {
		return nil
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return nil
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	return &d
}
