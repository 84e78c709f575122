// Package ingest embeds resources into the resource store, either
// synchronously through an Indexer or in the background through a Worker
// draining the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
	"github.com/kalambet/ethika/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// JobEnqueuer adds jobs to the queue.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// EmbeddingStore loads resources and stores their vectors.
type EmbeddingStore interface {
	Get(ctx context.Context, id string) (resource.Resource, error)
	SetEmbedding(ctx context.Context, id, model string, vector []float32) error
}

type embedPayload struct {
	ResourceID string `json:"resource_id"`
}

// EnqueueEmbedding schedules a background embedding of the resource.
func EnqueueEmbedding(q JobEnqueuer, resourceID string) error {
	payload, err := json.Marshal(embedPayload{ResourceID: resourceID})
	if err != nil {
		return fmt.Errorf("encoding job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobEmbedResource,
		PayloadJSON: string(payload),
	}
	if err := q.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing embedding for %s: %w", resourceID, err)
	}
	return nil
}

// Worker processes embed_resource jobs from the SQLite job queue.
type Worker struct {
	jobs      JobStore
	resources EmbeddingStore
	embedder  retrieval.Embedding
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, resources EmbeddingStore, embedder retrieval.Embedding, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:      jobs,
		resources: resources,
		embedder:  embedder,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_resource job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{storage.JobEmbedResource})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	r, err := w.resources.Get(ctx, payload.ResourceID)
	if err != nil {
		return fmt.Errorf("loading resource %s: %w", payload.ResourceID, err)
	}

	vec, err := w.embedder.Embed(ctx, resource.SearchableText(r))
	if err != nil {
		return fmt.Errorf("embedding resource: %w", err)
	}

	if err := w.resources.SetEmbedding(ctx, r.ID, retrieval.ModelID(w.embedder), vec); err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}
