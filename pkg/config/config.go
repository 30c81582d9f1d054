package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Embedding struct {
		Backend   string `yaml:"backend"`
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		ModelDir  string `yaml:"model_dir"`
		APIKey    string `yaml:"api_key"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"embedding"`

	Store struct {
		Backend           string `yaml:"backend"`
		Dir               string `yaml:"dir"`
		IndexFile         string `yaml:"index_file"`
		MetadataFile      string `yaml:"metadata_file"`
		AllowDegradedLoad bool   `yaml:"allow_degraded_load"`
	} `yaml:"store"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Loader struct {
		RawDataDir string   `yaml:"raw_data_dir"`
		Extensions []string `yaml:"extensions"`
		SeedSample bool     `yaml:"seed_sample"`
	} `yaml:"loader"`

	Scraper struct {
		MaxDepth          int      `yaml:"max_depth"`
		RateLimit         float64  `yaml:"rate_limit"`
		IgnorePatterns    []string `yaml:"ignore_patterns"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"scraper"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Pipeline struct {
		TopK       int `yaml:"top_k"`
		MaxHistory int `yaml:"max_history"`
	} `yaml:"pipeline"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	UI struct {
		Streaming bool `yaml:"streaming"`
	} `yaml:"ui"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

const (
	BackendOllama   = "ollama"
	BackendHugot    = "hugot"
	BackendOpenAI   = "openai"
	BackendFlat     = "flat"
	BackendPGVector = "pgvector"
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/cyberrag/config.yaml"),
			"/etc/cyberrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	// Streaming is opt-out, so it has to be set before the file overrides it.
	config.UI.Streaming = true
	config.Loader.SeedSample = true
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	config := &Config{}
	config.UI.Streaming = true
	config.Loader.SeedSample = true
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

// IndexPath and MetadataPath locate the paired flat-store artifacts.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Store.Dir, c.Store.IndexFile)
}

func (c *Config) MetadataPath() string {
	return filepath.Join(c.Store.Dir, c.Store.MetadataFile)
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "qwen:0.5b"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Backend == "" {
		config.Embedding.Backend = BackendOllama
	}
	if config.Embedding.Model == "" {
		switch config.Embedding.Backend {
		case BackendHugot:
			config.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
		case BackendOpenAI:
			config.Embedding.Model = "text-embedding-3-small"
		default:
			config.Embedding.Model = "nomic-embed-text"
		}
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Backend == BackendOllama {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.ModelDir == "" {
		config.Embedding.ModelDir = "models"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}

	if config.Store.Backend == "" {
		config.Store.Backend = BackendFlat
	}
	if config.Store.Dir == "" {
		config.Store.Dir = filepath.Join("data", "vector_store")
	}
	if config.Store.IndexFile == "" {
		config.Store.IndexFile = "index.gob"
	}
	if config.Store.MetadataFile == "" {
		config.Store.MetadataFile = "chunks.gob"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Loader.RawDataDir == "" {
		config.Loader.RawDataDir = filepath.Join("data", "raw")
	}
	if len(config.Loader.Extensions) == 0 {
		config.Loader.Extensions = []string{".txt", ".md", ".pdf", ".html", ".htm"}
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 150
	}

	if config.Pipeline.TopK == 0 {
		config.Pipeline.TopK = 3
	}
	if config.Pipeline.MaxHistory == 0 {
		config.Pipeline.MaxHistory = 6
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
	if model := os.Getenv("CYBERRAG_LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if model := os.Getenv("CYBERRAG_EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}
	if level := os.Getenv("CYBERRAG_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
