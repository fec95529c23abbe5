package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != "8080" {
		t.Fatalf("unexpected default api port %q", cfg.APIPort)
	}
	if cfg.SearchRRFC != 60 {
		t.Fatalf("unexpected default rrf constant %d", cfg.SearchRRFC)
	}
	if cfg.BackoffCapSec != 3600 {
		t.Fatalf("unexpected default backoff cap %d", cfg.BackoffCapSec)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("API_PORT", "9999")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("MAX_FILE_SIZE_BYTES", "1048576")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != "9999" {
		t.Fatalf("expected env override, got %q", cfg.APIPort)
	}
	if cfg.ChunkSize != 500 {
		t.Fatalf("expected chunk size 500, got %d", cfg.ChunkSize)
	}
	if cfg.MaxFileSize != 1048576 {
		t.Fatalf("expected max file size override, got %d", cfg.MaxFileSize)
	}
}

func TestLoadYAMLOverlayAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api_port: \"7070\"\nsearch_top_k: 8\nnats_subject: documents.custom\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("API_PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SearchTopK != 8 {
		t.Fatalf("expected yaml value, got %d", cfg.SearchTopK)
	}
	if cfg.NATSSubject != "documents.custom" {
		t.Fatalf("expected yaml subject, got %q", cfg.NATSSubject)
	}
	if cfg.APIPort != "6060" {
		t.Fatalf("env must win over yaml, got %q", cfg.APIPort)
	}
}

func TestLoadRejectsOverlapNotSmallerThanChunkSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
