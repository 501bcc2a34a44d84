package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/errs"
)

// FormatBigram is the checkpoint format of the built-in backend.
const FormatBigram = "bigram-v1"

// DefaultBaseModel is the built-in base vocabulary.
const DefaultBaseModel = "docqa-bigram-base"

const (
	bigramFile       = "model.json"
	defaultSmoothing = 0.1
	defaultMaxTokens = 64
)

// Template markers become single tokens.
const (
	tokStart = "<s>"
	tokInst  = "<instruction>"
	tokInput = "<input>"
	tokResp  = "<response>"
	tokEnd   = "<end>"
)

var markerTokens = map[string]string{
	"### Instruction:": tokInst,
	"### Input:":       tokInput,
	"### Response:":    tokResp,
	"### End":          tokEnd,
}

// baseCorpus seeds the vocabulary of a fresh model so that an untrained
// checkpoint can still produce text.
var baseCorpus = []dataset.TrainingExample{
	{Instruction: "Answer the question.", Input: "The document describes the policy.", Output: "The document states the answer."},
	{Instruction: "Summarize the text.", Input: "This is a short text about a claim.", Output: "It is about a claim."},
	{Instruction: "Answer the following question based on the provided document.", Input: "Document: The report is attached.\nQuestion: What is attached?", Output: "The report is attached."},
}

// Bigram is a smoothed bigram language model over the training template. It
// serves as both the built-in Trainer and the loaded Model.
type Bigram struct {
	BaseModel string                        `json:"base_model"`
	Next      map[string]map[string]float64 `json:"next"`
	Totals    map[string]float64            `json:"totals"`
	Vocab     map[string]float64            `json:"vocab"`
	Smoothing float64                       `json:"smoothing"`

	weight float64
}

// NewBigramTrainer returns the built-in Trainer.
func NewBigramTrainer() Trainer {
	return &Bigram{}
}

func newBigram(base string) *Bigram {
	return &Bigram{
		BaseModel: base,
		Next:      map[string]map[string]float64{},
		Totals:    map[string]float64{},
		Vocab:     map[string]float64{},
		Smoothing: defaultSmoothing,
		weight:    1,
	}
}

func (b *Bigram) Format() string { return FormatBigram }

// Init starts from the base vocabulary, or from an existing bigram
// checkpoint when baseModel is a checkpoint path. The learning rate scales
// each observation relative to DefaultLearningRate.
func (b *Bigram) Init(_ context.Context, baseModel string, hp Hyperparameters) error {
	if baseModel == "" {
		baseModel = DefaultBaseModel
	}
	fresh := newBigram(baseModel)
	if info, err := os.Stat(baseModel); err == nil && info.IsDir() {
		m, _, err := OpenCheckpoint(baseModel)
		if err != nil {
			return fmt.Errorf("opening base checkpoint: %w", err)
		}
		parent, ok := m.(*Bigram)
		if !ok {
			return errs.Invalid("base checkpoint %s is not a %s model", baseModel, FormatBigram)
		}
		fresh.Next, fresh.Totals, fresh.Vocab = parent.Next, parent.Totals, parent.Vocab
	} else {
		for _, ex := range baseCorpus {
			fresh.observe(tokenize(dataset.FormatPrompt(ex)), 1)
		}
	}
	*b = *fresh
	b.weight = hp.LearningRate / DefaultLearningRate
	return nil
}

func (b *Bigram) Restore(dir string, hp Hyperparameters) error {
	m, err := loadBigram(dir)
	if err != nil {
		return err
	}
	*b = *m
	b.weight = hp.LearningRate / DefaultLearningRate
	return nil
}

// TrainBatch scores the batch under the current model, then adds its counts.
func (b *Bigram) TrainBatch(ctx context.Context, batch []dataset.TrainingExample) (float64, error) {
	if len(batch) == 0 {
		return 0, errs.Invalid("empty batch")
	}
	var nll float64
	var n int
	seqs := make([][]string, len(batch))
	for i, ex := range batch {
		seqs[i] = tokenize(dataset.FormatPrompt(ex))
		l, c := b.lossOf(seqs[i])
		nll += l
		n += c
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, s := range seqs {
		b.observe(s, b.weight)
	}
	if n == 0 {
		return 0, nil
	}
	return nll / float64(n), nil
}

func (b *Bigram) Save(dir string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, bigramFile), data, 0o644)
}

// Loss implements LossModel.
func (b *Bigram) Loss(text string) (float64, int) {
	return b.lossOf(tokenize(text))
}

// Generate continues prompt one token at a time, sampling successors of the
// previous token in proportion to their counts. Sampling is seeded by the
// prompt, so equal prompts give equal output. The first token is never the
// end marker, so the output is never empty.
func (b *Bigram) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	h := fnv.New64a()
	h.Write([]byte(prompt))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	prev := tokStart
	if toks := tokenize(prompt); len(toks) > 0 {
		prev = toks[len(toks)-1]
	}

	var out []string
	for len(out) < maxTokens {
		if err := ctx.Err(); err != nil {
			return "", errs.Upstream("bigram generate", err)
		}
		next := b.sample(rng, prev, len(out) == 0)
		if next == "" || next == tokEnd {
			break
		}
		out = append(out, next)
		prev = next
	}
	return strings.Join(out, " "), nil
}

func (b *Bigram) sample(rng *rand.Rand, prev string, first bool) string {
	allowed := func(tok string) bool {
		switch tok {
		case tokStart, tokInst, tokInput, tokResp:
			return false
		case tokEnd:
			return !first
		}
		return true
	}
	if tok := pick(rng, b.Next[prev], allowed); tok != "" {
		return tok
	}
	return pick(rng, b.Vocab, allowed)
}

func pick(rng *rand.Rand, counts map[string]float64, allowed func(string) bool) string {
	keys := make([]string, 0, len(counts))
	var total float64
	for k, c := range counts {
		if allowed(k) && c > 0 {
			keys = append(keys, k)
			total += c
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	x := rng.Float64() * total
	for _, k := range keys {
		x -= counts[k]
		if x < 0 {
			return k
		}
	}
	return keys[len(keys)-1]
}

func (b *Bigram) observe(toks []string, w float64) {
	prev := tokStart
	for _, t := range toks {
		row := b.Next[prev]
		if row == nil {
			row = map[string]float64{}
			b.Next[prev] = row
		}
		row[t] += w
		b.Totals[prev] += w
		b.Vocab[t] += w
		prev = t
	}
}

func (b *Bigram) lossOf(toks []string) (float64, int) {
	v := float64(len(b.Vocab) + 1)
	k := b.Smoothing
	var nll float64
	prev := tokStart
	for _, t := range toks {
		p := (b.Next[prev][t] + k) / (b.Totals[prev] + k*v)
		nll -= math.Log(p)
		prev = t
	}
	return nll, len(toks)
}

func tokenize(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if tok, ok := markerTokens[l]; ok {
			out = append(out, tok)
			continue
		}
		out = append(out, strings.Fields(l)...)
	}
	return out
}

func loadBigram(dir string) (*Bigram, error) {
	data, err := os.ReadFile(filepath.Join(dir, bigramFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", errs.ErrStorageCorruption, bigramFile, err)
	}
	m := newBigram("")
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", errs.ErrStorageCorruption, bigramFile, err)
	}
	if m.Next == nil || m.Totals == nil || m.Vocab == nil {
		return nil, fmt.Errorf("%w: %s has no parameters", errs.ErrStorageCorruption, bigramFile)
	}
	if m.Smoothing <= 0 {
		m.Smoothing = defaultSmoothing
	}
	return m, nil
}
