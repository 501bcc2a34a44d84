package engine

import (
	"errors"
	"testing"

	"github.com/kalambet/docqa/internal/errs"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		cfg  DetectConfig
		want string
	}{
		{"default", DetectConfig{BaseURL: "http://localhost:11434"}, "*engine.OllamaEngine"},
		{"ollama", DetectConfig{Backend: BackendOllama, BaseURL: "http://localhost:11434"}, "*engine.OllamaEngine"},
		{"openai", DetectConfig{Backend: BackendOpenAI, APIKey: "k"}, "*engine.OpenAIEngine"},
		{"limited", DetectConfig{Backend: BackendOpenAI, APIKey: "k", RatePerSecond: 1}, "*engine.Limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Detect(tt.cfg)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if got := typeName(e); got != tt.want {
				t.Errorf("Detect returned %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetect_Unknown(t *testing.T) {
	_, err := Detect(DetectConfig{Backend: "mlx"})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func typeName(e Engine) string {
	switch e.(type) {
	case *OllamaEngine:
		return "*engine.OllamaEngine"
	case *OpenAIEngine:
		return "*engine.OpenAIEngine"
	case *Limited:
		return "*engine.Limited"
	}
	return "unknown"
}
