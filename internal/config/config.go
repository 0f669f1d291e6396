package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AI        AIConfig        `yaml:"ai"`
	Memory    MemoryConfig    `yaml:"memory"`
	Interview InterviewConfig `yaml:"interview"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize uint64 `yaml:"vector_size"`
}

type AIConfig struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig tunes the memory-need decision and the retrieval window.
type MemoryConfig struct {
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	SimilarityWindow     int     `yaml:"similarity_window"`
	SearchTopK           int     `yaml:"search_top_k"`
	MinContextTurns      int     `yaml:"min_context_turns"`
	MaxContextTurns      int     `yaml:"max_context_turns"`
	MaxSummaries         int     `yaml:"max_summaries"`
	SummaryIntervalPairs int     `yaml:"summary_interval_pairs"`
}

type InterviewConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	Prod  bool   `yaml:"prod"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("PROVIDER_API_KEY"); apiKey != "" {
		cfg.AI.Provider.APIKey = apiKey
		cfg.AI.Embedding.APIKey = apiKey
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		cfg.Database.Qdrant.APIKey = apiKey
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Memory.SimilarityThreshold == 0 {
		c.Memory.SimilarityThreshold = 0.70
	}
	if c.Memory.SimilarityWindow == 0 {
		c.Memory.SimilarityWindow = 5
	}
	if c.Memory.SearchTopK == 0 {
		c.Memory.SearchTopK = 4
	}
	if c.Memory.MinContextTurns == 0 {
		c.Memory.MinContextTurns = 2
	}
	if c.Memory.MaxContextTurns == 0 {
		c.Memory.MaxContextTurns = 6
	}
	if c.Memory.MaxSummaries == 0 {
		c.Memory.MaxSummaries = 3
	}
	if c.Memory.SummaryIntervalPairs == 0 {
		c.Memory.SummaryIntervalPairs = 4
	}
	if c.Interview.MaxRounds == 0 {
		c.Interview.MaxRounds = 3
	}
	if c.AI.Provider.MaxRetries == 0 {
		c.AI.Provider.MaxRetries = 3
	}
	if c.AI.Provider.Timeout == 0 {
		c.AI.Provider.Timeout = 120 * time.Second
	}
	if c.AI.Embedding.Timeout == 0 {
		c.AI.Embedding.Timeout = 30 * time.Second
	}
	if c.Database.Qdrant.VectorSize == 0 {
		c.Database.Qdrant.VectorSize = 1024
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "turns"
	}
}
