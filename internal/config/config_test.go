package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("STOCK_VIDEO", "")

	cfg := Load()
	if cfg.MaxConcurrentJobs != 2 {
		t.Fatalf("MaxConcurrentJobs = %d, want 2", cfg.MaxConcurrentJobs)
	}
	if cfg.HTTPPort != "8000" {
		t.Fatalf("HTTPPort = %q, want 8000", cfg.HTTPPort)
	}
	if cfg.StoreDriver != "sqlite" {
		t.Fatalf("StoreDriver = %q, want sqlite", cfg.StoreDriver)
	}
	if !cfg.StockVideo {
		t.Fatal("StockVideo should default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("PORT", "9001")
	t.Setenv("JOB_TIMEOUT", "120")
	t.Setenv("STAGE_TIMEOUT", "45s")
	t.Setenv("PEXELS_API_KEY", "px")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("STOCK_VIDEO", "false")

	cfg := Load()
	if cfg.HTTPPort != "9001" {
		t.Fatalf("HTTPPort = %q, want PORT fallback 9001", cfg.HTTPPort)
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Fatalf("JobTimeout = %s, want 2m", cfg.JobTimeout)
	}
	if cfg.StageTimeout != 45*time.Second {
		t.Fatalf("StageTimeout = %s, want 45s", cfg.StageTimeout)
	}
	if cfg.ProviderKeys["pexels"] != "px" {
		t.Fatalf("pexels key not loaded")
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.StockVideo {
		t.Fatal("STOCK_VIDEO=false not applied")
	}
}
