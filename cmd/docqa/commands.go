package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/answer"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/eval"
	"github.com/kalambet/docqa/internal/finetune"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/registry"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

// document mirrors the server's document response.
type document struct {
	ID         string `json:"document_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	UploadedAt string `json:"uploaded_at"`
	Status     string `json:"status"`
	Chunks     int    `json:"chunks"`
	Text       string `json:"text,omitempty"`
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document into the index",
	Long: `Ingest a document into the index.

Examples:
  docqa ingest --text "The policy covers fire damage." --name policy.txt
  docqa ingest --file ./policy.pdf
  docqa ingest --file ./handbook.html --async
  docqa ingest --url https://example.com/policy.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		rawURL, _ := cmd.Flags().GetString("url")
		name, _ := cmd.Flags().GetString("name")
		id, _ := cmd.Flags().GetString("id")
		async, _ := cmd.Flags().GetBool("async")

		set := 0
		for _, s := range []string{text, file, rawURL} {
			if s != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("exactly one of --text, --file, or --url is required")
		}
		if async && file == "" {
			return fmt.Errorf("--async is only supported with --file")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)

		var d document
		switch {
		case text != "":
			resp, err := client.post(ctx, "/documents", map[string]string{"id": id, "filename": name, "file_type": "text", "text": text})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &d); err != nil {
				return err
			}
		case file != "":
			path := "/documents/upload"
			if async {
				path += "?async=1"
			}
			resp, err := client.upload(ctx, path, file)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &d); err != nil {
				return err
			}
		default:
			resp, err := client.post(ctx, "/documents/url", map[string]string{"url": rawURL})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &d); err != nil {
				return err
			}
		}

		if d.Status == storage.DocumentIndexed {
			printSuccess("Indexed %s (%d chunks)", d.ID, d.Chunks)
		} else {
			printSuccess("Queued %s (%s)", d.ID, d.Status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), d.ID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "raw text to ingest")
	ingestCmd.Flags().String("file", "", "PDF, HTML, markdown or text file to upload")
	ingestCmd.Flags().String("url", "", "URL to download and ingest")
	ingestCmd.Flags().String("name", "", "filename recorded for --text")
	ingestCmd.Flags().String("id", "", "document ID for --text (default: generated)")
	ingestCmd.Flags().Bool("async", false, "queue the upload for background indexing")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List, show and delete indexed documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}
		var docs []document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No documents.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILENAME\tTYPE\tSTATUS\tCHUNKS\tUPLOADED")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.FileType, d.Status, d.Chunks, d.UploadedAt)
		}
		return tw.Flush()
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document and its extracted text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var d document
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), d)
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmdContext(cmd), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var docsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), "/stats")
		if err != nil {
			return err
		}
		var st ingest.Stats
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatus("Documents", "%d", st.TotalDocuments)
		printStatus("Chunks", "%d", st.Chunks)
		printStatus("Dimension", "%d", st.Dimension)
		printStatus("Location", "%s", st.BackingLocation)
		return nil
	},
}

func init() {
	docsListCmd.Flags().Int("limit", 50, "maximum number of documents")
	docsCmd.AddCommand(docsListCmd, docsShowCmd, docsDeleteCmd, docsStatsCmd)
}

// --- search / ask / run ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/search?q=" + url.QueryEscape(query)
		if k > 0 {
			path += "&k=" + strconv.Itoa(k)
		}
		resp, err := client.get(cmdContext(cmd), path)
		if err != nil {
			return err
		}
		var result struct {
			Results []retrieval.SearchResult `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(result.Results) == 0 {
			fmt.Fprintln(out, "No results.")
			return nil
		}
		for i, r := range result.Results {
			fmt.Fprintf(out, "%s %s\n", colorize(colorBold, fmt.Sprintf("%d. [%.3f]", i+1, r.Similarity)),
				colorize(colorCyan, fmt.Sprintf("%s#%d", r.Chunk.DocumentID, r.Chunk.Index)))
			fmt.Fprintf(out, "   %s\n\n", truncate(r.Chunk.Text, 240))
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		model, _ := cmd.Flags().GetString("model")
		sources, _ := cmd.Flags().GetBool("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/answer", map[string]any{
			"question": strings.Join(args, " "),
			"k":        k,
			"model":    model,
		})
		if err != nil {
			return err
		}
		var res answer.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Answer)
		if res.Truncated {
			printWarning("context was truncated to fit the prompt budget")
		}
		if sources {
			for _, r := range res.SupportingChunks {
				fmt.Fprintf(out, "  - %s#%d [%.3f]\n", r.Chunk.DocumentID, r.Chunk.Index, r.Similarity)
			}
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download a document and answer a batch of questions",
	Long: `Download a document and answer a batch of questions.

Example:
  docqa run --url https://example.com/policy.pdf \
    -q "What is the grace period?" -q "Is maternity covered?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL, _ := cmd.Flags().GetString("url")
		questions, _ := cmd.Flags().GetStringArray("question")
		if rawURL == "" || len(questions) == 0 {
			return fmt.Errorf("--url and at least one --question are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/run", map[string]any{
			"documents": rawURL,
			"questions": questions,
		})
		if err != nil {
			return err
		}
		var res struct {
			DocumentID string   `json:"document_id"`
			Answers    []string `json:"answers"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, a := range res.Answers {
			q := ""
			if i < len(questions) {
				q = questions[i]
			}
			fmt.Fprintf(out, "%s\n%s\n\n", colorize(colorBold, "Q: "+q), a)
			if a == answer.FailedAnswer {
				printWarning("question %d could not be answered", i+1)
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("k", 0, "number of results (default: server top_k)")
	askCmd.Flags().Int("k", 0, "number of chunks to retrieve (default: server top_k)")
	askCmd.Flags().String("model", "base", "answer with the base or finetuned model")
	askCmd.Flags().Bool("sources", false, "list the supporting chunks")
	runCmd.Flags().String("url", "", "document URL")
	runCmd.Flags().StringArrayP("question", "q", nil, "question to answer (repeatable)")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- train / runs ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Start a fine-tuning run from a dataset file",
	Long: `Start a fine-tuning run from a dataset file.

The file holds {document, instruction, output} records as .jsonl, .json or .yaml.

Example:
  docqa train --file ./qa.jsonl --epochs 3 --lr 0.00005 --batch 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		records, err := dataset.ReadFile(file)
		if err != nil {
			return err
		}
		body, err := trainRequest(cmd, records)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/training/runs", body)
		if err != nil {
			return err
		}
		var res struct {
			Run     finetune.Snapshot `json:"run"`
			Skipped []dataset.Skip    `json:"skipped"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Skipped) > 0 {
			printWarning("skipped %d invalid records", len(res.Skipped))
		}
		printSuccess("Started run %s (%d examples)", res.Run.ID, res.Run.Examples)
		fmt.Fprintln(cmd.OutOrStdout(), res.Run.ID)
		return nil
	},
}

func trainRequest(cmd *cobra.Command, records []dataset.RawRecord) (map[string]any, error) {
	base, _ := cmd.Flags().GetString("base-model")
	lr, _ := cmd.Flags().GetFloat64("lr")
	batch, _ := cmd.Flags().GetInt("batch")
	epochs, _ := cmd.Flags().GetInt("epochs")
	if lr < 0 || batch < 0 || epochs < 0 {
		return nil, fmt.Errorf("hyperparameters must not be negative")
	}
	return map[string]any{
		"records":    records,
		"base_model": base,
		"hyperparameters": finetune.Hyperparameters{
			LearningRate: lr,
			BatchSize:    batch,
			Epochs:       epochs,
		},
	}, nil
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and control fine-tuning runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), fmt.Sprintf("/training/runs?limit=%d", limit))
		if err != nil {
			return err
		}
		var runs []finetune.Snapshot
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No training runs.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATE\tEPOCH\tLOSS\tBASE MODEL\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				r.ID, stateLabel(r), r.Epoch, r.Hyperparameters.Epochs, lastLoss(r.EpochLosses), r.BaseModel,
				r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a training run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "GET", args[0], "")
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an active training run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "POST", args[0], "cancel")
	},
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a failed run from its latest checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "POST", args[0], "resume")
	},
}

// runAction calls /training/runs/{id}[/action] and prints the snapshot.
func runAction(cmd *cobra.Command, method, id, action string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := "/training/runs/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	resp, err := client.do(cmdContext(cmd), method, path, nil)
	if err != nil {
		return err
	}
	var s finetune.Snapshot
	if err := decodeJSON(resp, &s); err != nil {
		return err
	}
	switch action {
	case "cancel":
		printSuccess("Cancellation requested for %s (%s)", s.ID, s.State)
	case "resume":
		printSuccess("Resumed %s from epoch %d", s.ID, s.Epoch)
	}
	return printJSON(cmd.OutOrStdout(), s)
}

func stateLabel(s finetune.Snapshot) string {
	label := string(s.State)
	if s.Reason != "" {
		label += " (" + s.Reason + ")"
	}
	switch s.State {
	case finetune.StateCompleted:
		return colorize(colorGreen, label)
	case finetune.StateFailed:
		return colorize(colorRed, label)
	default:
		return colorize(colorYellow, label)
	}
}

func lastLoss(losses []float64) string {
	if len(losses) == 0 {
		return "-"
	}
	return strconv.FormatFloat(losses[len(losses)-1], 'f', 4, 64)
}

func init() {
	trainCmd.Flags().String("file", "", "dataset file (.jsonl, .json, .yaml)")
	trainCmd.Flags().String("base-model", "", "base model name recorded with the run")
	trainCmd.Flags().Float64("lr", 0, "learning rate (default 5e-5)")
	trainCmd.Flags().Int("batch", 0, "batch size (default 4)")
	trainCmd.Flags().Int("epochs", 0, "epochs (default 3)")

	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsCancelCmd, runsResumeCmd)
}

// --- model / eval ---

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Load fine-tuned checkpoints and generate with them",
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the loaded model and available checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), "/models")
		if err != nil {
			return err
		}
		var res struct {
			Loaded      *registry.Info       `json:"loaded"`
			Checkpoints []registry.Available `json:"checkpoints"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if res.Loaded != nil {
			printStatus("Loaded", "%s epoch %d (loss %.4f)", res.Loaded.RunID, res.Loaded.Epoch, res.Loaded.Loss)
		} else {
			printStatus("Loaded", "none")
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tEPOCH\tCURRENT\tPATH")
		for _, c := range res.Checkpoints {
			fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", c.RunID, c.Epoch, c.Current, c.Path)
		}
		return tw.Flush()
	},
}

var modelLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a checkpoint for generation",
	Long: `Load a checkpoint for generation.

Examples:
  docqa model load --run <run-id>            # latest checkpoint of the run
  docqa model load --run <run-id> --epoch 2
  docqa model load --path <checkpoint-dir>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		epoch, _ := cmd.Flags().GetInt("epoch")
		path, _ := cmd.Flags().GetString("path")
		if (runID == "") == (path == "") {
			return fmt.Errorf("exactly one of --run or --path is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/models/load", map[string]any{
			"run_id": runID,
			"epoch":  epoch,
			"path":   path,
		})
		if err != nil {
			return err
		}
		var info registry.Info
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}
		printSuccess("Loaded %s epoch %d from %s", info.RunID, info.Epoch, info.Path)
		return nil
	},
}

var modelGenerateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate text with the loaded model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{"prompt": {strings.Join(args, " ")}}
		if maxTokens > 0 {
			q.Set("max_tokens", strconv.Itoa(maxTokens))
		}
		resp, err := client.get(cmdContext(cmd), "/models/generate?"+q.Encode())
		if err != nil {
			return err
		}
		var res struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return nil
	},
}

var modelUnloadCmd = &cobra.Command{
	Use:   "unload",
	Short: "Unload the active fine-tuned model",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/models/unload", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Model unloaded")
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score a model against a dataset file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		scorer, _ := cmd.Flags().GetString("scorer")
		target, _ := cmd.Flags().GetString("target")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		records, err := dataset.ReadFile(file)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/models/evaluate", map[string]any{
			"records": records,
			"scorer":  scorer,
			"target":  target,
		})
		if err != nil {
			return err
		}
		var res eval.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printStatus("Scorer", "%s", res.Scorer)
		printStatus("Examples", "%d", len(res.PerExample))
		printStatus("Average score", "%.4f", res.AverageScore)
		if res.Perplexity != nil {
			printStatus("Perplexity", "%.2f", *res.Perplexity)
		}
		if verbose {
			return printJSON(cmd.OutOrStdout(), res.PerExample)
		}
		return nil
	},
}

func init() {
	modelLoadCmd.Flags().String("run", "", "training run ID")
	modelLoadCmd.Flags().Int("epoch", 0, "epoch checkpoint (default: latest)")
	modelLoadCmd.Flags().String("path", "", "checkpoint directory under the checkpoint root")
	modelGenerateCmd.Flags().Int("max-tokens", 0, "generation limit (default 128)")
	modelCmd.AddCommand(modelListCmd, modelLoadCmd, modelUnloadCmd, modelGenerateCmd)

	evalCmd.Flags().String("file", "", "dataset file (.jsonl, .json, .yaml)")
	evalCmd.Flags().String("scorer", "", "token_overlap, exact or embedding (default: server setting)")
	evalCmd.Flags().String("target", "finetuned", "model to evaluate: finetuned or base")
	evalCmd.Flags().Bool("verbose", false, "print per-example scores")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
