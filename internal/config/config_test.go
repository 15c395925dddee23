package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "upstream: wss://example.com\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("Listen = %q, want default", cfg.Listen)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.FlowRetention != DefaultFlowRetention {
		t.Fatalf("FlowRetention = %d, want %d", cfg.FlowRetention, DefaultFlowRetention)
	}
	if !cfg.AllowCompression {
		t.Fatalf("AllowCompression = false, want true by default")
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
listen: 0.0.0.0:9000
upstream: ws://backend:8081
api-listen: 127.0.0.1:9001
allow-compression: false
log-level: debug
flow-retention: 16
rewrite:
  - match: type
    equals: secret
    kill: true
  - set: user.name
    value: redacted
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AllowCompression {
		t.Fatalf("AllowCompression = true, want false")
	}
	if len(cfg.Rewrite) != 2 {
		t.Fatalf("Rewrite rules = %d, want 2", len(cfg.Rewrite))
	}
	if !cfg.Rewrite[0].Kill || cfg.Rewrite[0].Equals != "secret" {
		t.Fatalf("rule 0 = %+v", cfg.Rewrite[0])
	}
	if cfg.Rewrite[1].Set != "user.name" || cfg.Rewrite[1].Value != "redacted" {
		t.Fatalf("rule 1 = %+v", cfg.Rewrite[1])
	}
}

func TestLoadRejectsMissingUpstream(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, "listen: :9000\n")); err == nil || !strings.Contains(err.Error(), "upstream") {
		t.Fatalf("Load() error = %v, want upstream error", err)
	}
}

func TestLoadRejectsBadUpstreamScheme(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, "upstream: ftp://example.com\n")); err == nil || !strings.Contains(err.Error(), "scheme") {
		t.Fatalf("Load() error = %v, want scheme error", err)
	}
}

func TestLoadRejectsUselessRewriteRule(t *testing.T) {
	t.Parallel()

	content := "upstream: ws://example.com\nrewrite:\n  - match: type\n"
	if _, err := Load(writeConfig(t, content)); err == nil || !strings.Contains(err.Error(), "rewrite") {
		t.Fatalf("Load() error = %v, want rewrite rule error", err)
	}
}
