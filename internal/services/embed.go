package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tasksync/internal/storage"
	"github.com/kalambet/tasksync/internal/vector"
)

// EmbedService regenerates a task's vector embedding when its embeddable
// content changes. The content hash stored on the task record decides
// whether the embedding backend is called at all.
type EmbedService struct {
	tasks    TaskReader
	vectors  VectorIndex // nil when the vector store is disabled
	embedder Embedder
	logger   *slog.Logger
}

// NewEmbedService creates the auto-embedding service.
func NewEmbedService(tasks TaskReader, vectors VectorIndex, embedder Embedder) *EmbedService {
	return &EmbedService{
		tasks:    tasks,
		vectors:  vectors,
		embedder: embedder,
		logger:   slog.Default(),
	}
}

func (s *EmbedService) Type() ServiceType { return AutoEmbedding }

// Degraded reports true when the vector store is disabled.
func (s *EmbedService) Degraded() bool { return s.vectors == nil }

// EmbedResult reports the outcome of one embedding operation.
type EmbedResult struct {
	TaskID      string `json:"task_id"`
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped"` // content unchanged, backend not called
	EmbeddingID string `json:"embedding_id,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

func (r EmbedResult) Succeeded() bool { return r.Success }

// ContentHash fingerprints the fields that affect a task's semantic meaning.
func ContentHash(title, description string) string {
	h := sha256.Sum256([]byte(title + "\n" + description))
	return hex.EncodeToString(h[:])
}

// EmbeddingDocument builds the text that gets embedded for a task.
func EmbeddingDocument(title, description string) string {
	if description == "" {
		return title
	}
	return title + "\n\n" + description
}

// Process recomputes the task's content hash and regenerates the embedding
// only if it differs from the stored one. Malformed payloads and vanished
// tasks are permanent failures; an unreachable embedding backend is
// transient and retried.
func (s *EmbedService) Process(ctx context.Context, op *Operation) (Result, error) {
	p, ok := op.Payload.(EmbedPayload)
	if !ok {
		return nil, Permanent(fmt.Errorf("embed operation %s carries %T payload", op.ID, op.Payload))
	}
	if p.Task.ID == "" {
		return nil, Permanent(fmt.Errorf("embed payload has no task id"))
	}

	// Re-read the task: the payload snapshot may have been superseded.
	task, err := s.tasks.GetTask(p.Task.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Permanent(fmt.Errorf("task %s no longer exists", p.Task.ID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", p.Task.ID, err)
	}
	if task.Title == "" && task.Description == "" {
		return nil, Permanent(fmt.Errorf("task %s has no embeddable content", task.ID))
	}

	res := EmbedResult{TaskID: task.ID}

	if s.vectors == nil {
		// Nothing to write embeddings into; report and finish.
		s.logger.Warn("vector store disabled, skipping embedding", "task_id", task.ID)
		return res, nil
	}

	hash := ContentHash(task.Title, task.Description)
	if hash == task.ContentHash && task.VectorID != "" {
		res.Success = true
		res.Skipped = true
		res.EmbeddingID = task.VectorID
		res.ContentHash = hash
		return res, nil
	}

	doc := EmbeddingDocument(task.Title, task.Description)
	vec, err := s.embedder.Embed(ctx, doc)
	if err != nil {
		return res, fmt.Errorf("embedding task %s: %w", task.ID, err)
	}

	// Stable per-task record ID so regeneration replaces, not duplicates.
	vectorID := "task:" + task.ID

	rec := vector.Record{
		ID:        vectorID,
		TaskID:    task.ID,
		Document:  doc,
		Embedding: vec,
		Metadata:  fmt.Sprintf(`{"status":%q,"priority":%q}`, task.Status, task.Priority),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.vectors.Upsert(ctx, taskCollection, []vector.Record{rec}); err != nil {
		return res, fmt.Errorf("storing embedding for task %s: %w", task.ID, err)
	}

	if err := s.tasks.SetTaskEmbedding(task.ID, vectorID, hash); err != nil {
		return res, fmt.Errorf("recording embedding for task %s: %w", task.ID, err)
	}

	res.Success = true
	res.EmbeddingID = vectorID
	res.ContentHash = hash
	return res, nil
}
