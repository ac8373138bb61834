package services

import (
	"fmt"

	"github.com/kalambet/tasksync/internal/storage"
)

// Payload is the typed data bundle an operation carries. Each service type
// has exactly one payload kind, checked at enqueue time so a mismatch never
// reaches a worker.
type Payload interface {
	service() ServiceType
}

// Sync operation kinds carried by SyncPayload.
const (
	SyncCreate = "create"
	SyncUpdate = "update"
	SyncDelete = "delete"
)

// SyncPayload propagates a primary-store mutation to the secondary stores.
type SyncPayload struct {
	Op   string       `json:"op"` // create, update or delete
	Task storage.Task `json:"task"`
}

func (SyncPayload) service() ServiceType { return IncrementalSync }

// EmbedPayload asks the auto-embedding service to refresh a task's vector.
type EmbedPayload struct {
	Task storage.Task `json:"task"`
}

func (EmbedPayload) service() ServiceType { return AutoEmbedding }

// CyclePayload describes a proposed dependency edge FromID -> ToID that has
// not been persisted yet.
type CyclePayload struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

func (CyclePayload) service() ServiceType { return CycleDetection }

// OptimizePayload triggers index maintenance on the secondary stores.
type OptimizePayload struct {
	TriggeredBy string `json:"triggered_by"`
	Force       bool   `json:"force,omitempty"`
}

func (OptimizePayload) service() ServiceType { return IndexOptimization }

func validatePayload(service ServiceType, p Payload) error {
	if p == nil {
		return fmt.Errorf("operation for %s has no payload", service)
	}
	if p.service() != service {
		return fmt.Errorf("payload %T belongs to %s, not %s", p, p.service(), service)
	}
	switch v := p.(type) {
	case SyncPayload:
		if v.Op != SyncCreate && v.Op != SyncUpdate && v.Op != SyncDelete {
			return fmt.Errorf("sync payload has unknown op %q", v.Op)
		}
		if v.Task.ID == "" {
			return fmt.Errorf("sync payload has no task id")
		}
	case EmbedPayload:
		if v.Task.ID == "" {
			return fmt.Errorf("embed payload has no task id")
		}
	case CyclePayload:
		if v.FromID == "" || v.ToID == "" {
			return fmt.Errorf("cycle payload needs both edge endpoints")
		}
	case OptimizePayload:
		// Nothing required.
	}
	return nil
}
