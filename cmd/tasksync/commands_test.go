package main

import (
	"testing"

	"github.com/kalambet/tasksync/internal/config"
)

func TestSetConfigKey(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
		check   func(config.Config) bool
	}{
		{"server.port", "9999", false, func(c config.Config) bool { return c.Server.Port == 9999 }},
		{"log.level", "debug", false, func(c config.Config) bool { return c.Log.Level == "debug" }},
		{"vector.enabled", "false", false, func(c config.Config) bool { return !c.Vector.Enabled }},
		{"services.worker_count", "8", false, func(c config.Config) bool { return c.Services.WorkerCount == 8 }},
		{"services.operation_timeout", "45s", false, func(c config.Config) bool { return c.Services.OperationTimeout == "45s" }},
		{"services.worker_count", "lots", true, nil},
		{"graph.enabled", "maybe", true, nil},
		{"no.such.key", "x", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			var cfg config.Config
			cfg.Vector.Enabled = true
			err := setConfigKey(&cfg, tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("setConfigKey: %v", err)
			}
			if !tt.check(cfg) {
				t.Fatalf("value not applied: %+v", cfg)
			}
		})
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := pidFilePath(dir)

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d", pid)
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Fatal("expected error after removal")
	}
}
