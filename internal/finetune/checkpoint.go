package finetune

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// Checkpoint layout inside a run directory:
//
//	<run>/epoch-0001/manifest.json
//	<run>/epoch-0001/<model files>
//	<run>/CURRENT            name of the newest complete epoch directory
const (
	ManifestFile = "manifest.json"
	CurrentFile  = "CURRENT"
)

// Manifest describes a checkpoint and the sha256 of each of its files.
type Manifest struct {
	Format    string            `json:"format"`
	RunID     string            `json:"run_id"`
	BaseModel string            `json:"base_model"`
	Epoch     int               `json:"epoch"`
	Loss      float64           `json:"loss"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"`
}

// EpochDir returns the directory name of an epoch checkpoint.
func EpochDir(epoch int) string {
	return fmt.Sprintf("epoch-%04d", epoch)
}

// writeCheckpoint saves into a temporary directory, fsyncs it, renames it into
// place and then moves the CURRENT pointer. A crash at any step leaves CURRENT
// naming a complete checkpoint.
func writeCheckpoint(runDir string, m Manifest, save func(dir string) error) (string, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	tmp, err := os.MkdirTemp(runDir, ".tmp-"+EpochDir(m.Epoch)+"-")
	if err != nil {
		return "", fmt.Errorf("creating temporary checkpoint: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := save(tmp); err != nil {
		return "", fmt.Errorf("saving parameters: %w", err)
	}
	files, err := hashDir(tmp, true)
	if err != nil {
		return "", err
	}
	m.Files = files
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeFileSync(filepath.Join(tmp, ManifestFile), data); err != nil {
		return "", err
	}
	if err := syncDir(tmp); err != nil {
		return "", err
	}

	final := filepath.Join(runDir, EpochDir(m.Epoch))
	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("replacing %s: %w", final, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("publishing checkpoint: %w", err)
	}
	if err := syncDir(runDir); err != nil {
		return "", err
	}
	if err := setCurrent(runDir, EpochDir(m.Epoch)); err != nil {
		return "", err
	}
	return final, nil
}

func setCurrent(runDir, name string) error {
	tmp := filepath.Join(runDir, CurrentFile+".tmp")
	if err := writeFileSync(tmp, []byte(name+"\n")); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(runDir, CurrentFile)); err != nil {
		return fmt.Errorf("updating %s: %w", CurrentFile, err)
	}
	return syncDir(runDir)
}

// ResolveCheckpoint maps a run directory to the epoch directory its CURRENT
// pointer names. Any other existing directory is returned unchanged.
func ResolveCheckpoint(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checkpoint %s: %w", path, errs.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", errs.Invalid("checkpoint %s is not a directory", path)
	}
	cur, err := os.ReadFile(filepath.Join(path, CurrentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return path, nil
	}
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(cur))
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %s names %q", errs.ErrStorageCorruption, CurrentFile, name)
	}
	return filepath.Join(path, name), nil
}

// VerifyCheckpoint reads the manifest of an epoch directory and checks every
// listed file against its sha256.
func VerifyCheckpoint(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(dir); statErr != nil {
			return Manifest{}, fmt.Errorf("checkpoint %s: %w", dir, errs.ErrNotFound)
		}
		return Manifest{}, fmt.Errorf("checkpoint %s: %w: no %s", dir, errs.ErrNotFound, ManifestFile)
	}
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decoding manifest of %s: %v", errs.ErrStorageCorruption, dir, err)
	}
	if len(m.Files) == 0 {
		return Manifest{}, fmt.Errorf("%w: manifest of %s lists no files", errs.ErrStorageCorruption, dir)
	}
	got, err := hashDir(dir, false)
	if err != nil {
		return Manifest{}, err
	}
	for name, want := range m.Files {
		if got[name] != want {
			return Manifest{}, fmt.Errorf("%w: checksum mismatch for %s in %s", errs.ErrStorageCorruption, name, dir)
		}
	}
	return m, nil
}

// Loader opens the model files of a verified checkpoint.
type Loader func(dir string) (Model, error)

var (
	loadersMu sync.RWMutex
	loaders   = map[string]Loader{
		FormatBigram: func(dir string) (Model, error) { return loadBigram(dir) },
	}
)

// RegisterFormat makes OpenCheckpoint able to load another backend's
// checkpoints.
func RegisterFormat(format string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[format] = l
}

// OpenCheckpoint resolves path, verifies it and loads its model.
func OpenCheckpoint(path string) (Model, Manifest, error) {
	dir, err := ResolveCheckpoint(path)
	if err != nil {
		return nil, Manifest{}, err
	}
	m, err := VerifyCheckpoint(dir)
	if err != nil {
		return nil, Manifest{}, err
	}
	loadersMu.RLock()
	load, ok := loaders[m.Format]
	loadersMu.RUnlock()
	if !ok {
		return nil, Manifest{}, errs.Invalid("checkpoint %s has unknown format %q", dir, m.Format)
	}
	model, err := load(dir)
	if err != nil {
		return nil, Manifest{}, err
	}
	return model, m, nil
}

// ListCheckpoints returns the epoch directories of a run, oldest first.
func ListCheckpoints(runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("run directory %s: %w", runDir, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "epoch-") {
			out = append(out, filepath.Join(runDir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func hashDir(dir string, fsync bool) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}
	sums := map[string]string{}
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == ManifestFile {
			continue
		}
		sum, err := hashFile(filepath.Join(dir, e.Name()), fsync)
		if err != nil {
			return nil, err
		}
		sums[e.Name()] = sum
	}
	return sums, nil
}

func hashFile(path string, fsync bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			return "", fmt.Errorf("syncing %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}
