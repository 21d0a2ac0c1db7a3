package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate source config
	if strings.Count(c.Source.URLTemplate, "%s") != 1 {
		errors = append(errors, ValidationError{
			Field:   "source.url_template",
			Message: "url_template must contain exactly one %s placeholder",
		})
	} else if u, err := url.Parse(fmt.Sprintf(c.Source.URLTemplate, "0")); err != nil || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "source.url_template",
			Message: "invalid source URL template",
		})
	}

	if c.Source.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "source.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate embedder config
	if c.Embedder.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.ParseRequestURI(c.Embedder.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	// Validate vector store config
	switch c.VectorStore.Type {
	case "pgvector":
		if c.VectorStore.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "vector_store.url",
				Message: "database URL is required for pgvector",
			})
		} else if _, err := url.Parse(c.VectorStore.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "vector_store.url",
				Message: "invalid database URL",
			})
		}
	case "memory":
	default:
		errors = append(errors, ValidationError{
			Field:   "vector_store.type",
			Message: fmt.Sprintf("unknown vector store type: %s", c.VectorStore.Type),
		})
	}

	if c.VectorStore.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "vector_store.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.VectorStore.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "vector_store.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate registry config
	switch c.Registry.Driver {
	case "postgres":
		if c.Registry.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "registry.url",
				Message: "database URL is required for postgres registry",
			})
		}
	case "sqlite":
		if c.Registry.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "registry.path",
				Message: "path is required for sqlite registry",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "registry.driver",
			Message: fmt.Sprintf("unknown registry driver: %s", c.Registry.Driver),
		})
	}

	// Validate queue config
	if c.Queue.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.workers",
			Message: "workers must be positive",
		})
	}

	if c.Queue.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_retries",
			Message: "max_retries must be non-negative",
		})
	}

	if c.Search.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "search.top_k",
			Message: "top_k must be positive",
		})
	}

	return errors
}
