// Package config loads an Engine's static configuration from YAML, the
// way tinySQL's test fixtures and cuemby-warren's service config both
// drive setup from a yaml.v3-decoded struct rather than code.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TableSpec declares one table's packing hints: how heavily it weighs
// when the Manager packs tables into files, an optional parent it must
// be colocated with, and whether it must skip durable storage entirely
// (spec §7.1). NoShare is decoded but no packing or partitioning step
// reads it.
type TableSpec struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // "byte", "double", "string", "set"
	Weight  uint32 `yaml:"weight"`
	Parent  string `yaml:"parent"`
	NoShare bool   `yaml:"noShare"`
	NoSave  bool   `yaml:"noSave"`
}

// Engine is the full static configuration for one running engine.
type Engine struct {
	DataDir  string `yaml:"dataDir"`
	PageSize int    `yaml:"pageSize"`

	Workers int `yaml:"workers"`

	MaxTableWeight uint32 `yaml:"maxTableWeight"`
	MaxQueue       int    `yaml:"maxQueue"`
	AllNoSave      bool   `yaml:"allNoSave"`

	StatEnabled        bool  `yaml:"statEnabled"`
	StatCheckTimeMilli int64 `yaml:"statCheckTime"`

	// FlushCount is how many committed orders a worker processes before an
	// automatic Cache.Flush; FlushIntervalSec is the elapsed-time fallback
	// that triggers one even if FlushCount hasn't been reached yet (spec §6).
	FlushCount       int   `yaml:"flushCount"`
	FlushIntervalSec int64 `yaml:"flushIntervalSec"`

	Tables []TableSpec `yaml:"tables"`

	Gateway struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"gateway"`
}

// Default returns a configuration with the same defaults the reference
// implementation ships (maxTableWeight 1000, 8 KiB pages).
func Default() Engine {
	return Engine{
		DataDir:            "./data",
		PageSize:           8192,
		Workers:            4,
		MaxTableWeight:     1000,
		MaxQueue:           10000,
		StatCheckTimeMilli: 5000,
		FlushCount:         1,
		FlushIntervalSec:   300,
	}
}

// Load reads and parses an Engine config from a YAML file, filling in
// Default() for anything left zero.
func Load(path string) (Engine, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants Load alone can't enforce via struct tags.
func (e *Engine) Validate() error {
	if e.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", e.Workers)
	}
	if e.PageSize < 4096 || e.PageSize > 65536 {
		return fmt.Errorf("config: pageSize %d out of range [4096,65536]", e.PageSize)
	}
	seen := map[string]bool{}
	for _, t := range e.Tables {
		if t.Name == "" {
			return fmt.Errorf("config: table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("config: duplicate table name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
