package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/docqa/internal/errs"
)

// ReadJSONL reads one JSON record per line. Blank lines are ignored.
func ReadJSONL(r io.Reader) ([]RawRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var out []RawRecord
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec RawRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, errs.Invalid("line %d: %v", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return out, nil
}

// ReadYAML reads a YAML sequence of records.
func ReadYAML(r io.Reader) ([]RawRecord, error) {
	var out []RawRecord
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errs.Invalid("decoding yaml records: %v", err)
	}
	return out, nil
}

// ReadFile loads records from a .jsonl, .json, .yaml or .yml file.
func ReadFile(path string) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, errs.ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return ReadJSONL(f)
	case ".json":
		var out []RawRecord
		if err := json.NewDecoder(f).Decode(&out); err != nil {
			return nil, errs.Invalid("decoding %s: %v", path, err)
		}
		return out, nil
	case ".yaml", ".yml":
		return ReadYAML(f)
	default:
		return nil, errs.Invalid("unsupported dataset file %s", path)
	}
}
