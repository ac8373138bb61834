package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tasksync/internal/services"
	"github.com/kalambet/tasksync/internal/storage"
	"github.com/kalambet/tasksync/internal/vector"
)

// MCPSearcher abstracts semantic search over task embeddings.
type MCPSearcher interface {
	Search(collection string, query []float32, topK int) ([]vector.ScoredRecord, error)
}

// MCPEmbedder turns search queries into vectors.
type MCPEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPGraphWriter persists dependency edges into the graph store. Edge
// writes happen inline with the primary-store write; only node state flows
// through the sync queue.
type MCPGraphWriter interface {
	UpsertEdge(ctx context.Context, fromID, toID string) error
	DeleteEdge(ctx context.Context, fromID, toID string) error
}

// MCPDeps holds dependencies for the MCP server. Searcher, Embedder, and
// Graph are optional; the matching tools report unavailability when nil.
type MCPDeps struct {
	Store    *storage.Store
	Manager  ServiceManager
	Searcher MCPSearcher
	Embedder MCPEmbedder
	Graph    MCPGraphWriter
}

const taskCollection = "task_vectors"

// NewMCPServer creates an MCP server with all tasksync tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tasksync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tasksync: task store with synchronized vector search and dependency graph."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task; its vector embedding and graph node are generated in the background."),
			mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Longer task description")),
			mcp.WithString("priority", mcp.Description("low, normal, high or critical (default normal)")),
		),
		mcpCreateTask(deps),
	)

	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Update a task's fields; secondary stores re-synchronize in the background."),
			mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("status", mcp.Description("New status")),
			mcp.WithString("priority", mcp.Description("New priority")),
		),
		mcpUpdateTask(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task and its dependency edges; secondary-store cleanup runs in the background."),
			mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
		),
		mcpDeleteTask(deps),
	)

	s.AddTool(
		mcp.NewTool("add_dependency",
			mcp.WithDescription("Add a dependency edge between two tasks. Refused if it would create a cycle."),
			mcp.WithString("from_id", mcp.Description("Task that depends on to_id"), mcp.Required()),
			mcp.WithString("to_id", mcp.Description("Task being depended on"), mcp.Required()),
		),
		mcpAddDependency(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_dependency",
			mcp.WithDescription("Remove a dependency edge between two tasks."),
			mcp.WithString("from_id", mcp.Description("Edge source task"), mcp.Required()),
			mcp.WithString("to_id", mcp.Description("Edge destination task"), mcp.Required()),
		),
		mcpRemoveDependency(deps),
	)

	s.AddTool(
		mcp.NewTool("search_tasks",
			mcp.WithDescription("Semantically search tasks by meaning, not keywords."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_status",
			mcp.WithDescription("Report the state of the background synchronization services."),
		),
		mcpSyncStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tasks://recent",
			"Recent Tasks",
			mcp.WithResourceDescription("Most recently created tasks as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpCreateTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || strings.TrimSpace(title) == "" {
			return mcpError("title is required"), nil
		}

		priority, err := services.ParsePriority(req.GetString("priority", "normal"))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		task := storage.Task{
			ID:          uuid.New().String(),
			Title:       title,
			Description: req.GetString("description", ""),
			Status:      "open",
			Priority:    priority.String(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := deps.Store.CreateTask(task); err != nil {
			return mcpError(fmt.Sprintf("failed to create task: %v", err)), nil
		}

		scheduleTaskChange(deps, services.SyncCreate, task)

		b, err := json.Marshal(task)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal task: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUpdateTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		task, err := deps.Store.GetTask(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("task %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load task: %v", err)), nil
		}

		contentChanged := false
		if v := req.GetString("title", ""); v != "" && v != task.Title {
			task.Title = v
			contentChanged = true
		}
		if v := req.GetString("description", ""); v != "" && v != task.Description {
			task.Description = v
			contentChanged = true
		}
		if v := req.GetString("status", ""); v != "" {
			task.Status = v
		}
		if v := req.GetString("priority", ""); v != "" {
			p, err := services.ParsePriority(v)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			task.Priority = p.String()
		}

		if err := deps.Store.UpdateTask(task); err != nil {
			return mcpError(fmt.Sprintf("failed to update task: %v", err)), nil
		}

		scheduleSync(deps, services.SyncUpdate, task, services.PriorityNormal)
		if contentChanged {
			scheduleEmbed(deps, task)
		}

		b, err := json.Marshal(task)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal task: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		task, err := deps.Store.GetTask(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("task %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load task: %v", err)), nil
		}

		if err := deps.Store.DeleteTask(id, true); err != nil {
			return mcpError(fmt.Sprintf("failed to delete task: %v", err)), nil
		}

		// Deletes jump the queue so stale records don't linger in search.
		scheduleSync(deps, services.SyncDelete, task, services.PriorityHigh)

		return mcpText(fmt.Sprintf("Deleted task %s", id)), nil
	}
}

func mcpAddDependency(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fromID, err := req.RequireString("from_id")
		if err != nil {
			return mcpError("from_id is required"), nil
		}
		toID, err := req.RequireString("to_id")
		if err != nil {
			return mcpError("to_id is required"), nil
		}

		for _, id := range []string{fromID, toID} {
			if _, err := deps.Store.GetTask(id); errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("task %s not found", id)), nil
			} else if err != nil {
				return mcpError(fmt.Sprintf("failed to load task: %v", err)), nil
			}
		}

		check, err := deps.Manager.ValidateDependency(ctx, fromID, toID)
		if err != nil {
			return mcpError(fmt.Sprintf("cycle check failed: %v", err)), nil
		}
		if check.CyclesFound > 0 {
			b, _ := json.Marshal(check.CyclePaths)
			return mcpError(fmt.Sprintf("dependency %s -> %s would create %d cycle(s): %s",
				fromID, toID, check.CyclesFound, b)), nil
		}

		if err := deps.Store.AddDependency(fromID, toID); err != nil {
			return mcpError(fmt.Sprintf("failed to add dependency: %v", err)), nil
		}
		if deps.Graph != nil {
			if err := deps.Graph.UpsertEdge(ctx, fromID, toID); err != nil {
				return mcpError(fmt.Sprintf("dependency saved but graph edge failed: %v", err)), nil
			}
		}

		return mcpText(fmt.Sprintf("Added dependency %s -> %s", fromID, toID)), nil
	}
}

func mcpRemoveDependency(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fromID, err := req.RequireString("from_id")
		if err != nil {
			return mcpError("from_id is required"), nil
		}
		toID, err := req.RequireString("to_id")
		if err != nil {
			return mcpError("to_id is required"), nil
		}

		if err := deps.Store.RemoveDependency(fromID, toID); err != nil {
			return mcpError(fmt.Sprintf("failed to remove dependency: %v", err)), nil
		}
		if deps.Graph != nil {
			if err := deps.Graph.DeleteEdge(ctx, fromID, toID); err != nil {
				return mcpError(fmt.Sprintf("dependency removed but graph edge remains: %v", err)), nil
			}
		}

		return mcpText(fmt.Sprintf("Removed dependency %s -> %s", fromID, toID)), nil
	}
}

func mcpSearchTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Searcher == nil || deps.Embedder == nil {
			return mcpError("semantic search not available: vector store disabled"), nil
		}

		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		vec, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding query failed: %v", err)), nil
		}

		scored, err := deps.Searcher.Search(taskCollection, vec, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(scored) == 0 {
			return mcpText("[]"), nil
		}

		type searchResult struct {
			TaskID string  `json:"task_id"`
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
		}
		results := make([]searchResult, len(scored))
		for i, s := range scored {
			results[i] = searchResult{TaskID: s.TaskID, Text: s.Document, Score: s.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSyncStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Manager.OverallStatus())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tasks, err := deps.Store.ListTasks(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}

		b, err := json.Marshal(tasks)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// scheduleTaskChange enqueues the sync and embedding work for a new or
// reworded task. Scheduling failures are logged, not returned to the tool
// caller; the primary write already succeeded.
func scheduleTaskChange(deps MCPDeps, op string, task storage.Task) {
	scheduleSync(deps, op, task, services.PriorityNormal)
	scheduleEmbed(deps, task)
}

func scheduleSync(deps MCPDeps, op string, task storage.Task, priority services.Priority) {
	_, err := deps.Manager.Schedule(
		services.IncrementalSync,
		services.OpSyncTask,
		task.ID,
		services.SyncPayload{Op: op, Task: task},
		priority,
	)
	if err != nil {
		slog.Warn("sync not scheduled", "task_id", task.ID, "op", op, "error", err)
	}
}

func scheduleEmbed(deps MCPDeps, task storage.Task) {
	_, err := deps.Manager.Schedule(
		services.AutoEmbedding,
		services.OpEmbedTask,
		task.ID,
		services.EmbedPayload{Task: task},
		services.PriorityNormal,
	)
	if err != nil {
		slog.Warn("embedding not scheduled", "task_id", task.ID, "error", err)
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
