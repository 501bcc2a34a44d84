// Package dataset converts labelled documents into instruction-tuning
// examples.
package dataset

import (
	"regexp"
	"strings"

	"github.com/kalambet/docqa/internal/errs"
)

// QAInstruction is the instruction used for examples built from
// question/answer pairs.
const QAInstruction = "Answer the following question based on the provided document."

// RawRecord is an unvalidated training triple as supplied by a caller.
type RawRecord struct {
	Document    string `json:"document" yaml:"document"`
	Instruction string `json:"instruction" yaml:"instruction"`
	Output      string `json:"output" yaml:"output"`
}

// TrainingExample is a validated, normalized training triple.
type TrainingExample struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// Skip records why an input record was not converted.
type Skip struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// PrepareResult holds the converted examples and the skipped records.
type PrepareResult struct {
	Examples []TrainingExample `json:"examples"`
	Skipped  []Skip            `json:"skipped"`
}

// FromQA builds a record asking the model to answer question from document.
func FromQA(document, question, answer string) RawRecord {
	return RawRecord{
		Document:    "Document: " + document + "\nQuestion: " + question,
		Instruction: QAInstruction,
		Output:      answer,
	}
}

// Prepare validates and normalizes records. A record with an empty field is
// skipped with an invalid-argument reason; the rest are still converted.
func Prepare(records []RawRecord) PrepareResult {
	res := PrepareResult{Examples: []TrainingExample{}, Skipped: []Skip{}}
	for i, r := range records {
		ex, err := Convert(r)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Index: i, Reason: err.Error(), Err: err})
			continue
		}
		res.Examples = append(res.Examples, ex)
	}
	return res
}

// Convert normalizes one record, failing with ErrInvalidArgument when a field
// is empty after normalization.
func Convert(r RawRecord) (TrainingExample, error) {
	ex := TrainingExample{
		Instruction: Normalize(r.Instruction),
		Input:       Normalize(r.Document),
		Output:      Normalize(r.Output),
	}
	var missing []string
	if ex.Input == "" {
		missing = append(missing, "document")
	}
	if ex.Instruction == "" {
		missing = append(missing, "instruction")
	}
	if ex.Output == "" {
		missing = append(missing, "output")
	}
	if len(missing) > 0 {
		return TrainingExample{}, errs.Invalid("empty %s", strings.Join(missing, ", "))
	}
	return ex, nil
}

var (
	blankRun = regexp.MustCompile(`[ \t\f\v]+`)
	manyNL   = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses runs of spaces and tabs, trims every line, limits
// blank lines to one and trims the result.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(blankRun.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = manyNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Prompt template markers.
const (
	markInstruction = "### Instruction:\n"
	markInput       = "### Input:\n"
	markResponse    = "### Response:\n"
	markEnd         = "### End\n"
)

// FormatPrompt renders an example in the training template, response and end
// marker included.
func FormatPrompt(ex TrainingExample) string {
	return FormatQuery(ex.Instruction, ex.Input) + ex.Output + "\n" + markEnd
}

// FormatQuery renders the template up to the response marker, which is what
// a model is asked to continue at inference time.
func FormatQuery(instruction, input string) string {
	var b strings.Builder
	b.WriteString(markInstruction)
	b.WriteString(instruction)
	b.WriteString("\n")
	if input != "" {
		b.WriteString(markInput)
		b.WriteString(input)
		b.WriteString("\n")
	}
	b.WriteString(markResponse)
	return b.String()
}

// EndMarker is the line that terminates a response in the template.
func EndMarker() string {
	return strings.TrimSuffix(markEnd, "\n")
}
