package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job types handled by the ingest worker.
const JobEmbedResource = "embed_resource"

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

// Generation kinds.
const (
	KindCurriculum = "curriculum"
	KindPrompt     = "prompt"
)

// Generation is one persisted curriculum or prompt-generation response.
type Generation struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RequestJSON string    `json:"request"`
	ResultJSON  string    `json:"result"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
