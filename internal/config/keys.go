package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "DOCQA_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "engine.backend", typ: kString, env: "DOCQA_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "engine.base_url", typ: kString, env: "DOCQA_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.gen_model", typ: kString, env: "DOCQA_ENGINE_GEN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.GenModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.GenModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "DOCQA_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.api_key", typ: kString, env: "DOCQA_ENGINE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "DOCQA_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "DOCQA_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "chunking.size", typ: kInt, env: "DOCQA_CHUNKING_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Size },
	},
	{
		key: "chunking.overlap", typ: kInt, env: "DOCQA_CHUNKING_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DOCQA_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.max_chunks", typ: kInt, env: "DOCQA_RETRIEVAL_MAX_CHUNKS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxChunks = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxChunks },
	},
	{
		key: "answer.max_prompt_tokens", typ: kInt, env: "DOCQA_ANSWER_MAX_PROMPT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Answer.MaxPromptTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Answer.MaxPromptTokens },
	},
	{
		key: "answer.max_tokens", typ: kInt, env: "DOCQA_ANSWER_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Answer.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Answer.MaxTokens },
	},
	{
		key: "answer.timeout", typ: kDuration, env: "DOCQA_ANSWER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Answer.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Answer.Timeout },
	},
	{
		key: "answer.retry_backoff", typ: kDuration, env: "DOCQA_ANSWER_RETRY_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Answer.RetryBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Answer.RetryBackoff },
	},
	{
		key: "generator.rate_per_second", typ: kFloat, env: "DOCQA_GENERATOR_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Generator.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generator.RatePerSecond },
	},
	{
		key: "generator.burst", typ: kInt, env: "DOCQA_GENERATOR_BURST",
		apply:   func(cfg *Config, v any) { cfg.Generator.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.Generator.Burst },
	},
	{
		key: "finetune.checkpoint_dir", typ: kString, env: "DOCQA_FINETUNE_CHECKPOINT_DIR",
		apply:   func(cfg *Config, v any) { cfg.FineTune.CheckpointDir = v.(string) },
		extract: func(cfg Config) any { return cfg.FineTune.CheckpointDir },
	},
	{
		key: "eval.scorer", typ: kString, env: "DOCQA_EVAL_SCORER",
		apply:   func(cfg *Config, v any) { cfg.Eval.Scorer = v.(string) },
		extract: func(cfg Config) any { return cfg.Eval.Scorer },
	},
	{
		key: "eval.concurrency", typ: kInt, env: "DOCQA_EVAL_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Eval.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Eval.Concurrency },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCQA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DOCQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string into the key's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
