package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/wsmitm/internal/config"
)

func writeConfig(t *testing.T, path, upstream string) {
	t.Helper()
	body := "upstream: \"" + upstream + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "ws://one.example")

	reloaded := make(chan *config.Config, 1)
	w, err := New(path, func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	writeConfig(t, path, "ws://two.example")

	select {
	case cfg := <-reloaded:
		if cfg.Upstream != "ws://two.example" {
			t.Fatalf("reloaded upstream = %q, want %q", cfg.Upstream, "ws://two.example")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestMalformedEditIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "ws://one.example")

	reloaded := make(chan *config.Config, 1)
	w, err := New(path, func(cfg *config.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Drop the required upstream field; validation must reject the reload.
	if err = os.WriteFile(path, []byte("listen: \"127.0.0.1:9\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("callback fired with %+v, want no reload", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestChangesToSiblingFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "ws://one.example")

	reloaded := make(chan *config.Config, 1)
	w, err := New(path, func(cfg *config.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("callback fired with %+v, want no reload", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
