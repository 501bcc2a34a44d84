package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/answer"
	"github.com/kalambet/docqa/internal/api"
	"github.com/kalambet/docqa/internal/chunker"
	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/eval"
	"github.com/kalambet/docqa/internal/finetune"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/registry"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const generateAttempts = 3

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the docqa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docqa server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docqa.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "docqa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))
	if cfg.Server.Token == "" {
		slog.Warn("DOCQA_SERVER_TOKEN is not set, API is unauthenticated")
	}

	// Refuse to start twice against the same data dir.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("docqa is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("docqa is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.Engine.Backend,
		BaseURL:       cfg.Engine.BaseURL,
		APIKey:        cfg.Engine.APIKey,
		RatePerSecond: cfg.Generator.RatePerSecond,
		RateBurst:     cfg.Generator.Burst,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.GenModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	vectors, err := retrieval.NewSQLiteStore(ctx, store.DB(), store.Location())
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel, retrieval.EmbedderConfig{
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	})
	docs, err := ingest.NewService(store, store, embedder, vectors, chunker.Config{
		Size:    cfg.Chunking.Size,
		Overlap: cfg.Chunking.Overlap,
	})
	if err != nil {
		return err
	}
	retriever := retrieval.NewRetriever(embedder, vectors)

	baseGen := answer.EngineGenerator{Engine: eng, Model: cfg.Engine.GenModel}
	answers := answer.New(
		retriever,
		composer.New(cfg.Answer.MaxPromptTokens),
		baseGen,
		answer.Config{
			MaxChunks:     cfg.Retrieval.MaxChunks,
			MaxTokens:     cfg.Answer.MaxTokens,
			Timeout:       cfg.Answer.Timeout,
			BatchAttempts: generateAttempts,
			BatchBackoff:  cfg.Answer.RetryBackoff,
		},
	)

	orch := finetune.NewOrchestrator(store, finetune.Config{CheckpointDir: cfg.FineTune.CheckpointDir})
	defer orch.Close()
	if _, err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recovering training runs: %w", err)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Documents:     docs,
		Search:        retriever,
		Answers:       answers,
		Training:      orch,
		Registry:      registry.New(),
		BaseGenerator: baseGen,
		ScoreEmbedder: embedder,
		EvalConfig: eval.Config{
			Concurrency: cfg.Eval.Concurrency,
			MaxTokens:   cfg.Answer.MaxTokens,
			Timeout:     cfg.Answer.Timeout,
		},
		DefaultScorer:  cfg.Eval.Scorer,
		CheckpointRoot: cfg.FineTune.CheckpointDir,
		TopK:           cfg.Retrieval.TopK,
		Token:          cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	worker := ingest.NewWorker(store, docs, 500*time.Millisecond)
	go worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Documents: docs,
			Search:    retriever,
			Answers:   answers,
			TopK:      cfg.Retrieval.TopK,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "docqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("docqa is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docqa (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docqa (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Engine", "%s at %s", cfg.Engine.Backend, cfg.Engine.BaseURL)
	printStatus("Gen model", "%s", cfg.Engine.GenModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)

	if running {
		var st ingest.Stats
		if resp, err := client.get(ctx, "/stats"); err == nil && decodeJSON(resp, &st) == nil {
			printStatus("Documents", "%d", st.TotalDocuments)
			printStatus("Chunks", "%d", st.Chunks)
			printStatus("Dimension", "%d", st.Dimension)
		}
		var runs []finetune.Snapshot
		if resp, err := client.get(ctx, "/training/runs?limit=100"); err == nil && decodeJSON(resp, &runs) == nil {
			printStatus("Training runs", "%s", countLabel(len(runs), 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
