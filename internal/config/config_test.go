package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Portfolio.DefaultName != "General" || cfg.Projects.CodePrefix != "P" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if got := cfg.Deliverables.Required["planning"]; len(got) != 1 || got[0] != "charter" {
		t.Fatalf("planning deliverables = %v", got)
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Similarity.Threshold != 0.7 {
		t.Fatalf("threshold = %v", cfg.Similarity.Threshold)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	yml := `portfolio:
  default_name: "DSI"
similarity:
  threshold: 0.8
projects:
  code_prefix: "PRJ"
`
	if err := os.WriteFile(filepath.Join(dir, "phaseline.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Portfolio.DefaultName != "DSI" || cfg.Similarity.Threshold != 0.8 || cfg.Projects.CodePrefix != "PRJ" {
		t.Fatalf("file not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Similarity.Threshold = 1.5 }},
		{"empty prefix", func(c *Config) { c.Projects.CodePrefix = "" }},
		{"unknown phase", func(c *Config) { c.Deliverables.Required["warmup"] = []string{"x"} }},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
