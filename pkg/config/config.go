package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source struct {
		URLTemplate string        `yaml:"url_template"`
		Timeout     time.Duration `yaml:"timeout"`
		RateLimit   float64       `yaml:"rate_limit"`
		UserAgent   string        `yaml:"user_agent"`
	} `yaml:"source"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Embedder struct {
		BaseURL string        `yaml:"base_url"`
		Model   string        `yaml:"model"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"embedder"`

	VectorStore struct {
		Type         string        `yaml:"type"`
		URL          string        `yaml:"url"`
		Path         string        `yaml:"path"` // memory index snapshot directory
		TableName    string        `yaml:"table_name"`
		VectorDim    int           `yaml:"vector_dim"`
		BatchSize    int           `yaml:"batch_size"`
		QueryTimeout time.Duration `yaml:"query_timeout"`
	} `yaml:"vector_store"`

	Registry struct {
		Driver    string `yaml:"driver"`
		URL       string `yaml:"url"`
		Path      string `yaml:"path"`
		TableName string `yaml:"table_name"`
	} `yaml:"registry"`

	Queue struct {
		Path              string        `yaml:"path"`
		Name              string        `yaml:"name"`
		Workers           int           `yaml:"workers"`
		MaxRetries        int           `yaml:"max_retries"`
		RetryDelay        time.Duration `yaml:"retry_delay"`
		VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
		PollInterval      time.Duration `yaml:"poll_interval"`
	} `yaml:"queue"`

	Server struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Search struct {
		TopK int `yaml:"top_k"`
	} `yaml:"search"`

	Auth struct {
		// Tokens maps a bearer token to the caller's stable channel key.
		Tokens map[string]string `yaml:"tokens"`
	} `yaml:"auth"`

	Notifier struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"notifier"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/verdikt/config.yaml"),
			"/etc/verdikt/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

// newConfig presets the fields where zero is a meaningful value, so they
// are only replaced when the file sets them.
func newConfig() *Config {
	config := &Config{}
	config.Processor.ChunkOverlap = 50
	config.Queue.MaxRetries = 2
	return config
}

func applyDefaults(config *Config) {
	if config.Source.URLTemplate == "" {
		config.Source.URLTemplate = "https://reyestr.court.gov.ua/Review/%s"
	}
	if config.Source.Timeout == 0 {
		config.Source.Timeout = 30 * time.Second
	}
	if config.Source.RateLimit == 0 {
		config.Source.RateLimit = 2.0
	}
	if config.Source.UserAgent == "" {
		config.Source.UserAgent = "verdikt/1.0"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 512
	}

	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = 60 * time.Second
	}

	if config.VectorStore.Type == "" {
		config.VectorStore.Type = "pgvector"
	}
	if config.VectorStore.Path == "" {
		config.VectorStore.Path = "data/vectors"
	}
	if config.VectorStore.TableName == "" {
		config.VectorStore.TableName = "decision_chunks"
	}
	if config.VectorStore.VectorDim == 0 {
		config.VectorStore.VectorDim = 768
	}
	if config.VectorStore.BatchSize == 0 {
		config.VectorStore.BatchSize = 100
	}
	if config.VectorStore.QueryTimeout == 0 {
		config.VectorStore.QueryTimeout = 15 * time.Second
	}

	if config.Registry.Driver == "" {
		config.Registry.Driver = "postgres"
	}
	if config.Registry.URL == "" {
		config.Registry.URL = config.VectorStore.URL
	}
	if config.Registry.Path == "" {
		config.Registry.Path = "data/registry.db"
	}
	if config.Registry.TableName == "" {
		config.Registry.TableName = "court_decisions"
	}

	if config.Queue.Path == "" {
		config.Queue.Path = "data/queue"
	}
	if config.Queue.Name == "" {
		config.Queue.Name = "decision_processing"
	}
	if config.Queue.Workers == 0 {
		config.Queue.Workers = 4
	}
	if config.Queue.RetryDelay == 0 {
		config.Queue.RetryDelay = 30 * time.Second
	}
	if config.Queue.VisibilityTimeout == 0 {
		config.Queue.VisibilityTimeout = 10 * time.Minute
	}
	if config.Queue.PollInterval == 0 {
		config.Queue.PollInterval = 500 * time.Millisecond
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 30 * time.Second
	}

	if config.Search.TopK == 0 {
		config.Search.TopK = 20
	}

	if config.Notifier.Buffer == 0 {
		config.Notifier.Buffer = 32
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.VectorStore.URL = dbURL
		config.Registry.URL = dbURL
	}
	if queuePath := os.Getenv("VERDIKT_QUEUE_PATH"); queuePath != "" {
		config.Queue.Path = queuePath
	}
	if addr := os.Getenv("VERDIKT_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
}
