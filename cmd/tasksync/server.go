package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/tasksync/internal/api"
	"github.com/kalambet/tasksync/internal/config"
	"github.com/kalambet/tasksync/internal/embedding"
	"github.com/kalambet/tasksync/internal/graph"
	"github.com/kalambet/tasksync/internal/services"
	"github.com/kalambet/tasksync/internal/storage"
	"github.com/kalambet/tasksync/internal/vector"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tasksync server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tasksync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tasksync system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tasksync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tasksync version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse a second instance on the same data dir.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tasksync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tasksync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Secondary-store adapters. A disabled store stays nil; the services
	// degrade instead of failing.
	var vectorStore *vector.SQLiteStore
	if cfg.Vector.Enabled {
		vectorStore = vector.NewSQLiteStore(store.DB())
	} else {
		slog.Warn("vector store disabled")
	}
	var graphStore *graph.SQLiteStore
	if cfg.Graph.Enabled {
		graphStore = graph.NewSQLiteStore(store.DB())
	} else {
		slog.Warn("graph store disabled")
	}

	embedder := embedding.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
	if cfg.Vector.Enabled && !embedder.IsRunning(ctx) {
		printWarning("Ollama not reachable at %s; embedding operations will retry until it is up", cfg.Ollama.BaseURL)
	}

	deps := services.Deps{
		Config:   cfg,
		Tasks:    store,
		Embedder: embedder,
		Logger:   slog.Default(),
	}
	// Typed nils must not reach the interface fields.
	if vectorStore != nil {
		deps.Vectors = vectorStore
	}
	if graphStore != nil {
		deps.Graph = graphStore
	}

	manager := services.NewManager(deps)
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	if err := manager.Start(); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}
	defer func() {
		if err := manager.Stop(); err != nil {
			slog.Warn("stopping services", "error", err)
		}
	}()

	var scheduler *services.OptimizeScheduler
	if cfg.Services.OptimizeSchedule != "" {
		scheduler, err = services.NewOptimizeScheduler(manager, cfg.Services.OptimizeSchedule)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		slog.Info("optimization schedule active", "spec", cfg.Services.OptimizeSchedule)
	}

	// MCP server over stdio.
	mcpDeps := api.MCPDeps{
		Store:   store,
		Manager: manager,
	}
	if vectorStore != nil {
		mcpDeps.Searcher = vectorStore
		mcpDeps.Embedder = embedder
	}
	if graphStore != nil {
		mcpDeps.Graph = graphStore
	}
	mcpSrv := api.NewMCPServer(mcpDeps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewStatusHandler(manager),
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tasksync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tasksync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tasksync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tasksync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	statusResp, err := client.Get(serverURL + "/status")
	if err == nil {
		var snap services.OverallSnapshot
		if json.NewDecoder(statusResp.Body).Decode(&snap) == nil {
			printStatus("Overall", "%s", snap.Status)
			printStatus("Vector store", "%s", connectedLabel(snap.VectorConnected))
			printStatus("Graph store", "%s", connectedLabel(snap.GraphConnected))
			for _, t := range services.ServiceTypes {
				if s, ok := snap.Services[t]; ok {
					printStatus(string(t), "%s (queue %d, done %d, failed %d)",
						s.Status, s.QueueDepth, s.Metrics.OperationsCompleted, s.Metrics.OperationsFailed)
				}
			}
		}
		statusResp.Body.Close()
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func connectedLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "disabled"
}
