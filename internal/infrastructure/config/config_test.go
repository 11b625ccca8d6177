package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLayersFileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reqlens.yaml")
	data := "addr: \":7777\"\nreplayConcurrency: 8\nstoreBackend: bolt\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ADDR", ":8888") // env wins over file
	t.Setenv("STORE_BACKEND", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8888" {
		t.Fatalf("env override lost: %q", cfg.Addr)
	}
	if cfg.ReplayConcurrency != 8 || cfg.StoreBackend != "bolt" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.ReplayTimeoutMs != 30000 {
		t.Fatalf("default lost: %d", cfg.ReplayTimeoutMs)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "redis")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
