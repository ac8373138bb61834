package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tasksync/internal/config"
	"github.com/kalambet/tasksync/internal/embedding"
	"github.com/kalambet/tasksync/internal/graph"
	"github.com/kalambet/tasksync/internal/services"
	"github.com/kalambet/tasksync/internal/storage"
	"github.com/kalambet/tasksync/internal/vector"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector and graph stores from the primary task store",
	Long: `Reindex walks every task in the primary store and repairs the secondary
stores: tasks whose content changed since their last embedding (or whose
vector record went missing) are re-embedded in bulk, graph nodes are
refreshed, and dependency edges are rebuilt from the primary store's
dependency table. Run it while the server is stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReindex()
	},
}

const taskCollection = "task_vectors"

// reindexScanLimit caps one reindex pass. Matches the primary store's
// practical size; tasks beyond it need a second pass.
const reindexScanLimit = 10000

// reindexVectors is the slice of the vector store reindexing needs.
type reindexVectors interface {
	Upsert(ctx context.Context, collection string, records []vector.Record) error
	GetByTask(ctx context.Context, collection, taskID string) ([]vector.Record, error)
}

// reindexGraph is the slice of the graph store reindexing needs.
type reindexGraph interface {
	UpsertNode(ctx context.Context, n graph.Node) error
	UpsertEdge(ctx context.Context, fromID, toID string) error
}

type reindexStats struct {
	TasksScanned int
	Embedded     int
	Nodes        int
	Edges        int
}

func runReindex() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	var vectors reindexVectors
	var embedder embedding.Embedder
	if cfg.Vector.Enabled {
		vectors = vector.NewSQLiteStore(store.DB())
		ollama := embedding.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
		if !ollama.IsRunning(ctx) {
			return fmt.Errorf("ollama not reachable at %s; start it or disable the vector store", cfg.Ollama.BaseURL)
		}
		embedder = ollama
	} else {
		printWarning("vector store disabled; skipping embedding rebuild")
	}

	var graphStore reindexGraph
	if cfg.Graph.Enabled {
		graphStore = graph.NewSQLiteStore(store.DB())
	} else {
		printWarning("graph store disabled; skipping graph rebuild")
	}

	stats, err := reindexAll(ctx, store, vectors, graphStore, embedder)
	if err != nil {
		return err
	}
	printSuccess("reindex complete: %d tasks scanned, %d re-embedded, %d nodes, %d edges",
		stats.TasksScanned, stats.Embedded, stats.Nodes, stats.Edges)
	return nil
}

// reindexAll repairs both secondary stores from the primary store. Either
// store may be nil (disabled); its half of the rebuild is skipped.
func reindexAll(ctx context.Context, store *storage.Store, vectors reindexVectors, graphStore reindexGraph, embedder embedding.Embedder) (reindexStats, error) {
	var stats reindexStats

	tasks, err := store.ListTasks(reindexScanLimit)
	if err != nil {
		return stats, fmt.Errorf("listing tasks: %w", err)
	}
	stats.TasksScanned = len(tasks)

	if vectors != nil && embedder != nil {
		n, err := reindexEmbeddings(ctx, store, vectors, embedder, tasks)
		if err != nil {
			return stats, err
		}
		stats.Embedded = n
	}

	if graphStore != nil {
		nodes, edges, err := reindexGraphStore(ctx, store, graphStore, tasks)
		if err != nil {
			return stats, err
		}
		stats.Nodes = nodes
		stats.Edges = edges
	}

	return stats, nil
}

// reindexEmbeddings re-embeds every task whose content hash is stale or
// whose vector record is missing despite a recorded vector ID.
func reindexEmbeddings(ctx context.Context, store *storage.Store, vectors reindexVectors, embedder embedding.Embedder, tasks []storage.Task) (int, error) {
	var stale []storage.Task
	var docs []string
	for _, task := range tasks {
		doc := services.EmbeddingDocument(task.Title, task.Description)
		if doc == "" {
			continue
		}
		if !needsEmbedding(ctx, vectors, task) {
			continue
		}
		stale = append(stale, task)
		docs = append(docs, doc)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	slog.Info("re-embedding stale tasks", "count", len(stale))
	embeddings, err := embedding.EmbedBatch(ctx, embedder, docs)
	if err != nil {
		return 0, fmt.Errorf("embedding %d tasks: %w", len(stale), err)
	}

	records := make([]vector.Record, len(stale))
	for i, task := range stale {
		records[i] = vector.Record{
			ID:        "task:" + task.ID,
			TaskID:    task.ID,
			Document:  docs[i],
			Embedding: embeddings[i],
			Metadata:  fmt.Sprintf(`{"status":%q,"priority":%q}`, task.Status, task.Priority),
			CreatedAt: time.Now().UTC(),
		}
	}
	if err := vectors.Upsert(ctx, taskCollection, records); err != nil {
		return 0, fmt.Errorf("storing %d embeddings: %w", len(records), err)
	}
	for i, task := range stale {
		hash := services.ContentHash(task.Title, task.Description)
		if err := store.SetTaskEmbedding(task.ID, records[i].ID, hash); err != nil {
			return 0, fmt.Errorf("recording embedding for task %s: %w", task.ID, err)
		}
	}
	return len(stale), nil
}

// needsEmbedding reports whether a task's vector record is stale or gone.
func needsEmbedding(ctx context.Context, vectors reindexVectors, task storage.Task) bool {
	hash := services.ContentHash(task.Title, task.Description)
	if hash != task.ContentHash || task.VectorID == "" {
		return true
	}
	// The hash matches but the record itself may have been lost.
	recs, err := vectors.GetByTask(ctx, taskCollection, task.ID)
	if err != nil {
		slog.Warn("checking vector record", "task", task.ID, "error", err)
		return true
	}
	return len(recs) == 0
}

// reindexGraphStore refreshes every node and replays the primary store's
// dependency table into the graph store. Upserts are idempotent, so edges
// already present are left alone.
func reindexGraphStore(ctx context.Context, store *storage.Store, graphStore reindexGraph, tasks []storage.Task) (nodes, edges int, err error) {
	for _, task := range tasks {
		n := graph.Node{
			ID:        task.ID,
			Title:     task.Title,
			Status:    task.Status,
			UpdatedAt: task.UpdatedAt,
		}
		if err := graphStore.UpsertNode(ctx, n); err != nil {
			return nodes, edges, fmt.Errorf("upserting node %s: %w", task.ID, err)
		}
		nodes++
	}

	deps, err := store.AllDependencies()
	if err != nil {
		return nodes, edges, fmt.Errorf("listing dependencies: %w", err)
	}
	for _, d := range deps {
		if err := graphStore.UpsertEdge(ctx, d.FromID, d.ToID); err != nil {
			return nodes, edges, fmt.Errorf("rebuilding edge %s -> %s: %w", d.FromID, d.ToID, err)
		}
		edges++
	}
	return nodes, edges, nil
}
