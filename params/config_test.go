package params

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("MAX_BOOK_DEPTH", "25")
	t.Setenv("QUOTE_CACHE_SIZE", "not-a-number")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.API.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.API.Addr)
	}
	if cfg.API.MaxBookDepth != 25 {
		t.Errorf("MaxBookDepth = %d, want 25", cfg.API.MaxBookDepth)
	}
	if cfg.Node.QuoteCacheSize != Default().Node.QuoteCacheSize {
		t.Errorf("QuoteCacheSize = %d, want default", cfg.Node.QuoteCacheSize)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "http://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.API.CORSOrigins)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHAIN_ID=42\nDATA_DIR=/tmp/gq\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already set
	t.Setenv("CHAIN_ID", "")
	os.Unsetenv("CHAIN_ID")
	t.Setenv("DATA_DIR", "")
	os.Unsetenv("DATA_DIR")

	cfg := LoadFromEnv(path)
	if cfg.Node.ChainID != 42 {
		t.Errorf("ChainID = %d, want 42", cfg.Node.ChainID)
	}
	if cfg.Node.DataDir != "/tmp/gq" {
		t.Errorf("DataDir = %q, want /tmp/gq", cfg.Node.DataDir)
	}
}
