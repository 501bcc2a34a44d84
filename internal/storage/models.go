package storage

import (
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errs.ErrNotFound

// Document statuses.
const (
	DocumentPending = "pending"
	DocumentIndexed = "indexed"
	DocumentFailed  = "failed"
)

// Document is an ingested source document with its extracted text.
type Document struct {
	ID         string
	Filename   string
	FileType   string
	Text       string
	UploadedAt time.Time
	Status     string
	ChunkCount int
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// RunRecord is the persisted form of a fine-tuning run.
type RunRecord struct {
	ID             string
	BaseModel      string
	LearningRate   float64
	BatchSize      int
	Epochs         int
	State          string
	Reason         string
	CheckpointPath string
	EpochLosses    string // JSON array of float64
	ExamplesJSON   string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
