package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/tasksync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		fmt.Println(path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value and write the config file.

Supported keys:
  server.port                 HTTP port
  storage.data_dir            database directory
  log.level                   info or debug
  ollama.base_url             embedding backend URL
  ollama.embed_model          embedding model name
  vector.enabled              true or false
  graph.enabled               true or false
  services.worker_count       workers per service
  services.queue_size         per-service queue capacity
  services.operation_timeout  e.g. 30s
  services.retry_delay        e.g. 1s
  services.max_retries        retry budget per operation
  services.optimize_schedule  cron expression, empty disables`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := setConfigKey(&cfg, key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func setConfigKey(cfg *config.Config, key, value string) error {
	switch key {
	case "server.port":
		return setInt(&cfg.Server.Port, value)
	case "storage.data_dir":
		cfg.Storage.DataDir = value
	case "log.level":
		cfg.Log.Level = value
	case "ollama.base_url":
		cfg.Ollama.BaseURL = value
	case "ollama.embed_model":
		cfg.Ollama.EmbedModel = value
	case "vector.enabled":
		return setBool(&cfg.Vector.Enabled, value)
	case "graph.enabled":
		return setBool(&cfg.Graph.Enabled, value)
	case "services.worker_count":
		return setInt(&cfg.Services.WorkerCount, value)
	case "services.queue_size":
		return setInt(&cfg.Services.QueueSize, value)
	case "services.operation_timeout":
		cfg.Services.OperationTimeout = value
	case "services.retry_delay":
		cfg.Services.RetryDelay = value
	case "services.max_retries":
		return setInt(&cfg.Services.MaxRetries, value)
	case "services.optimize_schedule":
		cfg.Services.OptimizeSchedule = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected an integer, got %q", value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("expected true or false, got %q", value)
	}
	*dst = b
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
}
