package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() failed Validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yaml := `
dataDir: /tmp/custom
workers: 8
tables:
  - name: users
    kind: string
    weight: 10
  - name: sessions
    kind: set
    weight: 5
    parent: users
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/custom" {
		t.Fatalf("DataDir = %q, want /tmp/custom", cfg.DataDir)
	}
	if cfg.Workers != 8 {
		t.Fatalf("Workers = %d, want 8", cfg.Workers)
	}
	if len(cfg.Tables) != 2 || cfg.Tables[1].Parent != "users" {
		t.Fatalf("Tables = %+v", cfg.Tables)
	}
	// Untouched defaults should survive the partial override.
	if cfg.MaxTableWeight != 1000 {
		t.Fatalf("MaxTableWeight = %d, want default 1000", cfg.MaxTableWeight)
	}
	if cfg.FlushCount != 1 || cfg.FlushIntervalSec != 300 {
		t.Fatalf("flush defaults = %d/%ds, want 1/300s", cfg.FlushCount, cfg.FlushIntervalSec)
	}
}

func TestValidateRejectsDuplicateTableNames(t *testing.T) {
	cfg := Default()
	cfg.Tables = []TableSpec{{Name: "t"}, {Name: "t"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate table name")
	}
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range page size")
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
