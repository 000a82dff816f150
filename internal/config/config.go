package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string          `yaml:"log_level"`
	RootDir       string          `yaml:"root_dir"`
	ExtractionDir string          `yaml:"extraction_dir"`
	Extractor     ExtractorConfig `yaml:"extractor"`
	OCR           OCRConfig       `yaml:"ocr"`
	Embedding     EmbeddingConfig `yaml:"embedding"`
	Store         StoreConfig     `yaml:"store"`
	Pipeline      PipelineConfig  `yaml:"pipeline"`
	RAG           RAGConfig       `yaml:"rag"`
	LLM           LLMConfig       `yaml:"llm"`
	Server        ServerConfig    `yaml:"server"`
}

type ExtractorConfig struct {
	TargetDPI int `yaml:"target_dpi"`
}

type OCRConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Languages []string `yaml:"languages"`
}

type EmbeddingConfig struct {
	// ollama (plain HTTP) or langchain
	Provider       string        `yaml:"provider"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	AuthToken      string        `yaml:"auth_token"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     uint          `yaml:"max_retries"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
}

type StoreConfig struct {
	// file, chromem or postgres
	Backend     string         `yaml:"backend"`
	Chromem     ChromemConfig  `yaml:"chromem"`
	Database    DatabaseConfig `yaml:"database"`
	LockTimeout time.Duration  `yaml:"lock_timeout"`
}

type ChromemConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
	// pgdriver or pq
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type PipelineConfig struct {
	Workers int `yaml:"workers"`
}

type RAGConfig struct {
	TopK int `yaml:"top_k"`
}

type LLMConfig struct {
	// openai or ollama
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoadConfig reads the yaml file at path (a missing file yields defaults),
// loads .env if present and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := firstEnv("OLLAMA_BASE_PATH", "EMBEDDING_BASE_PATH"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_IMAGE_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("OLLAMA_AUTH_TOKEN"); v != "" {
		cfg.Embedding.AuthToken = v
	}
	if v := os.Getenv("IMAGERAG_DATABASE_DSN"); v != "" {
		cfg.Store.Database.DSN = v
	}
	if v := os.Getenv("IMAGERAG_LLM_KEY"); v != "" {
		cfg.LLM.Key = v
	}
	if v := os.Getenv("IMAGERAG_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "."
	}
	if cfg.ExtractionDir == "" {
		cfg.ExtractionDir = "extracted_img"
	}
	if cfg.Extractor.TargetDPI <= 0 {
		cfg.Extractor.TargetDPI = 140
	}
	if len(cfg.OCR.Languages) == 0 {
		cfg.OCR.Languages = []string{"eng"}
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "gemma3:27b"
	}
	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.LockTimeout <= 0 {
		cfg.Store.LockTimeout = 30 * time.Second
	}
	if cfg.Store.Chromem.Path == "" {
		cfg.Store.Chromem.Path = "./chromemdb"
	}
	if cfg.Store.Chromem.Collection == "" {
		cfg.Store.Chromem.Collection = "image_vectors"
	}
	if cfg.Store.Chromem.Dimensions <= 0 {
		cfg.Store.Chromem.Dimensions = 768
	}
	if cfg.Store.Database.Driver == "" {
		cfg.Store.Database.Driver = "pgdriver"
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 1
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 3
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3.2"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = cfg.Embedding.BaseURL
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
