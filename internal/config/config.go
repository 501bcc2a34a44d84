// Package config loads docqa settings from defaults, a JSON file and
// DOCQA_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Answer    AnswerConfig
	Generator GeneratorConfig
	FineTune  FineTuneConfig
	Eval      EvalConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type EngineConfig struct {
	Backend    string
	BaseURL    string
	GenModel   string
	EmbedModel string
	APIKey     string
}

type EmbeddingConfig struct {
	Dimension int
	Timeout   time.Duration
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type RetrievalConfig struct {
	TopK      int
	MaxChunks int
}

type AnswerConfig struct {
	MaxPromptTokens int
	MaxTokens       int
	Timeout         time.Duration
	RetryBackoff    time.Duration
}

type GeneratorConfig struct {
	RatePerSecond float64
	Burst         int
}

type FineTuneConfig struct {
	CheckpointDir string
}

type EvalConfig struct {
	Scorer      string
	Concurrency int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Engine: EngineConfig{
			Backend:    "ollama",
			BaseURL:    "http://localhost:11434",
			GenModel:   "llama3-8b-8192",
			EmbedModel: "nomic-embed-text",
		},
		Embedding: EmbeddingConfig{
			Timeout: 30 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:    800,
			Overlap: 100,
		},
		Retrieval: RetrievalConfig{
			TopK:      5,
			MaxChunks: 8,
		},
		Answer: AnswerConfig{
			MaxPromptTokens: 2048,
			MaxTokens:       300,
			Timeout:         60 * time.Second,
			RetryBackoff:    time.Second,
		},
		Generator: GeneratorConfig{
			Burst: 1,
		},
		FineTune: FineTuneConfig{
			CheckpointDir: filepath.Join(dataDir, "checkpoints"),
		},
		Eval: EvalConfig{
			Scorer:      "token_overlap",
			Concurrency: 4,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend and the environment.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/docqa/config.json. A .env
// file in the working directory is loaded into the process environment
// first; variables already set are not overwritten. DOCQA_* variables
// override backend values. Secrets (server token, engine API key) are read
// from the environment only.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Engine.Backend == "openai" && cfg.Engine.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: engine API key. " +
			"Set it via environment variable DOCQA_ENGINE_API_KEY")
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return Config{}, fmt.Errorf("chunking.overlap %d must be less than chunking.size %d",
			cfg.Chunking.Overlap, cfg.Chunking.Size)
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "docqa-data"
		}
	}
	return filepath.Join(dir, "docqa")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "docqa", "config.json")
}
