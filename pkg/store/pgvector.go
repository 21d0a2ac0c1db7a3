package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Metadata keys that can appear in a query filter.
var filterableKeys = map[string]bool{
	"document_id":     true,
	"decision_number": true,
}

type PGVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PGVectorIndex keeps chunk vectors in a Postgres table with a cosine HNSW index.
type PGVectorIndex struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
}

func NewPGVectorIndex(ctx context.Context, config PGVectorConfig) (*PGVectorIndex, error) {
	if config.TableName == "" {
		config.TableName = "decision_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name: %q", config.TableName)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PGVectorIndex{
		config: config,
		pool:   pool,
	}, nil
}

// Init creates the vector extension, table and indexes unless they already exist.
func (ix *PGVectorIndex) Init(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := ix.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			decision_number TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB NOT NULL
		)`, ix.config.TableName, ix.config.VectorDim)

	if _, err := ix.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)`,
			ix.config.TableName, ix.config.TableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`,
			ix.config.TableName, ix.config.TableName),
	}
	for _, stmt := range createIndexes {
		if _, err := ix.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func (ix *PGVectorIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, decision_number, chunk_index, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			decision_number = EXCLUDED.decision_number,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		ix.config.TableName)

	for _, rec := range records {
		if len(rec.Embedding) != ix.config.VectorDim {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, want %d",
				rec.ID, len(rec.Embedding), ix.config.VectorDim)
		}

		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}

		_, err = tx.Exec(ctx, stmt,
			rec.ID,
			rec.Metadata.DocumentID,
			rec.Metadata.DecisionNumber,
			rec.ChunkIndex,
			sanitizeUTF8(rec.Text),
			pgvector.NewVector(rec.Embedding),
			string(meta),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (ix *PGVectorIndex) Nearest(ctx context.Context, vector []float32, k int, filter types.Filter) ([]Match, error) {
	args := []interface{}{pgvector.NewVector(vector), k}
	where := ""
	if len(filter) > 0 {
		for key := range filter {
			if !filterableKeys[key] {
				return nil, fmt.Errorf("unsupported filter key: %s", key)
			}
		}
		encoded, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		where = "WHERE metadata @> $3::jsonb"
		args = append(args, string(encoded))
	}

	query := fmt.Sprintf(`
		SELECT id, content, document_id, decision_number, embedding <=> $1 AS distance
		FROM %s
		%s
		ORDER BY distance
		LIMIT $2`,
		ix.config.TableName, where)

	rows, err := ix.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.ID,
			&m.Text,
			&m.Metadata.DocumentID,
			&m.Metadata.DecisionNumber,
			&m.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return matches, nil
}

func (ix *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", ix.config.TableName)).Scan(&n)
	return n, err
}

func (ix *PGVectorIndex) Close() {
	if ix.pool != nil {
		ix.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
