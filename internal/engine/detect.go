package engine

import (
	"github.com/kalambet/docqa/internal/errs"
)

// Backend names accepted by Detect.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend string
	BaseURL string
	APIKey  string

	// RatePerSecond limits Chat and Generate calls; zero disables limiting.
	RatePerSecond float64
	RateBurst     int
}

// Detect builds the configured backend. An empty Backend selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	var e Engine
	switch cfg.Backend {
	case "", BackendOllama:
		e = NewOllamaEngine(cfg.BaseURL)
	case BackendOpenAI:
		e = NewOpenAIEngine(cfg.BaseURL, cfg.APIKey)
	default:
		return nil, errs.Invalid("unknown engine backend %q", cfg.Backend)
	}
	return NewLimited(e, cfg.RatePerSecond, cfg.RateBurst), nil
}
