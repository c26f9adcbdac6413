package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	StoreChromem  = "chromem"
	StorePGVector = "pgvector"

	DriverPG = "pgdriver"
	DriverPQ = "pq"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Ingest      IngestConfig      `yaml:"ingest"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	EmbedLLM    LLMConfig         `yaml:"embedder"`
	ChatLLM     LLMConfig         `yaml:"llm"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// IngestConfig controls the startup scan of the tabular folder.
type IngestConfig struct {
	Folder       string   `yaml:"folder"`
	Extensions   []string `yaml:"extensions"`
	Columns      []string `yaml:"columns"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	BatchSize    int      `yaml:"batch_size"`
	Dedup        bool     `yaml:"dedup"`
	Reset        bool     `yaml:"reset"`
}

type VectorStoreConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	SnapshotFile  string `yaml:"snapshot_file"`
	EncryptionKey string `yaml:"encryption_key"`
	TopK          int    `yaml:"top_k"`
}

// DatabaseConfig is only used by the pgvector store.
type DatabaseConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	Driver     string `yaml:"driver"`
	Table      string `yaml:"table"`
	VectorSize int    `yaml:"vector_size"`
	Debug      bool   `yaml:"debug"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	Key       string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Credentials are resolved from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := seed()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	cfg.EmbedLLM.Key = os.Getenv(cfg.EmbedLLM.APIKeyEnv)
	cfg.ChatLLM.Key = os.Getenv(cfg.ChatLLM.APIKeyEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Default() *Config {
	cfg := seed()
	applyDefaults(&cfg)
	return &cfg
}

// seed presets the fields whose zero value is a valid setting, so only an
// absent key falls back to the default.
func seed() Config {
	return Config{Ingest: IngestConfig{ChunkOverlap: 200}}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Ingest.Folder == "" {
		cfg.Ingest.Folder = "csv_files"
	}
	if len(cfg.Ingest.Extensions) == 0 {
		cfg.Ingest.Extensions = []string{".csv", ".xlsx"}
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 64
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = StoreChromem
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "chroma_db"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "csv_documents"
	}
	if cfg.VectorStore.TopK == 0 {
		cfg.VectorStore.TopK = 10
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPG
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = "documents"
	}
	if cfg.Database.VectorSize == 0 {
		cfg.Database.VectorSize = 1536
	}

	llmDefaults(&cfg.EmbedLLM, "text-embedding-ada-002", "nomic-embed-text")
	llmDefaults(&cfg.ChatLLM, "gpt-3.5-turbo", "llama3.2")

	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
}

func llmDefaults(c *LLMConfig, openaiModel, ollamaModel string) {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		if c.Provider == ProviderOllama {
			c.Model = ollamaModel
		} else {
			c.Model = openaiModel
		}
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
}

func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, %d), got %d", c.Ingest.ChunkSize, c.Ingest.ChunkOverlap)
	}
	if c.VectorStore.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.VectorStore.TopK)
	}

	switch c.VectorStore.Type {
	case StoreChromem:
		if k := c.VectorStore.EncryptionKey; k != "" && len(k) != 32 {
			return fmt.Errorf("encryption_key must be 32 bytes, got %d", len(k))
		}
		if c.VectorStore.SnapshotFile != "" && c.VectorStore.EncryptionKey == "" {
			return errors.New("snapshot_file requires an encryption_key")
		}
	case StorePGVector:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the pgvector store")
		}
		if c.Database.Driver != DriverPG && c.Database.Driver != DriverPQ {
			return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown vector store: %s", c.VectorStore.Type)
	}

	for name, l := range map[string]LLMConfig{"embedder": c.EmbedLLM, "llm": c.ChatLLM} {
		switch l.Provider {
		case ProviderOpenAI:
			if l.Key == "" {
				return fmt.Errorf("%s: missing API key, set %s", name, l.APIKeyEnv)
			}
		case ProviderOllama:
		default:
			return fmt.Errorf("%s: unknown provider: %s", name, l.Provider)
		}
	}
	return nil
}
