package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedding struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"embedding"`

	Database struct {
		URL       string `yaml:"url"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Chunker struct {
		ChunkSize        int     `yaml:"chunk_size"`
		ChunkOverlap     int     `yaml:"chunk_overlap"`
		BoundaryFraction float64 `yaml:"boundary_fraction"`
	} `yaml:"chunker"`

	Batch struct {
		BatchSize int `yaml:"batch_size"`
		DelayMS   int `yaml:"delay_ms"`
	} `yaml:"batch"`

	RAG struct {
		Threshold        float32 `yaml:"threshold"`
		Limit            int     `yaml:"limit"`
		MaxContextTokens int     `yaml:"max_context_tokens"`
	} `yaml:"rag"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/mandirweb/rag.yaml"),
			"/etc/mandirweb/rag.yaml",
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
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 64
	}

	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 500
	}
	if config.Chunker.ChunkOverlap == 0 {
		config.Chunker.ChunkOverlap = 50
	}
	if config.Chunker.BoundaryFraction == 0 {
		config.Chunker.BoundaryFraction = 0.5
	}

	if config.Batch.BatchSize == 0 {
		config.Batch.BatchSize = 5
	}
	if config.Batch.DelayMS == 0 {
		config.Batch.DelayMS = 1000
	}

	if config.RAG.Threshold == 0 {
		config.RAG.Threshold = 0.5
	}
	if config.RAG.Limit == 0 {
		config.RAG.Limit = 5
	}
	if config.RAG.MaxContextTokens == 0 {
		config.RAG.MaxContextTokens = 2000
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8090"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
}
