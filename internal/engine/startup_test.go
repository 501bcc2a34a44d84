package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Generate(_ context.Context, _, _ string, _ int) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// remoteEngine has no local model management.
type remoteEngine struct{ mockEngine }

func (r *remoteEngine) asEngine() Engine {
	return struct {
		Engine
	}{&r.mockEngine}
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.1": true, "nomic-embed-text": true},
	}
	err := EnsureReady(context.Background(), m, "llama3.1", "nomic-embed-text", io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.1": true},
	}
	var out bytes.Buffer
	err := EnsureReady(context.Background(), m, "llama3.1", "nomic-embed-text", &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "nomic-embed-text" {
		t.Errorf("expected pull of nomic-embed-text, got %v", m.pulled)
	}
	if !strings.Contains(out.String(), "model nomic-embed-text: pulling...") {
		t.Errorf("progress output = %q", out.String())
	}
}

func TestEnsureReady_ThroughLimiter(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	err := EnsureReady(context.Background(), NewLimited(m, 10, 1), "llama3.1", "", io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 {
		t.Errorf("pulled = %v, want [llama3.1]", m.pulled)
	}
}

func TestEnsureReady_NoModelManager(t *testing.T) {
	r := &remoteEngine{mockEngine{isRunning: true, models: map[string]bool{}}}
	if err := EnsureReady(context.Background(), r.asEngine(), "llama3.1", "nomic-embed-text", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(r.pulled) != 0 {
		t.Errorf("remote backend pulled %v", r.pulled)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, "llama3.1", "nomic-embed-text", io.Discard)
	if !errors.Is(err, ErrEngineDown) {
		t.Fatalf("err = %v, want ErrEngineDown", err)
	}
}

func TestRequiredModels_Dedup(t *testing.T) {
	got := requiredModels("llama3.1", "", "llama3.1")
	if len(got) != 1 || got[0] != "llama3.1" {
		t.Errorf("requiredModels = %v", got)
	}
}

func TestProgressPrinter_CollapsesRepeats(t *testing.T) {
	var out bytes.Buffer
	pr := progressPrinter(&out)
	pr(PullProgress{Status: "pulling manifest"})
	pr(PullProgress{Status: "pulling manifest"})
	pr(PullProgress{Status: "downloading", Total: 200, Completed: 100})
	pr(PullProgress{Status: "downloading", Total: 200, Completed: 101})
	pr(PullProgress{Status: "downloading", Total: 200, Completed: 200})
	want := "  pulling manifest\n  downloading 50%\n  downloading 100%\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
