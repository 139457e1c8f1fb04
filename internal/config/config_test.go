package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testManager(t *testing.T, contents string) (*Manager, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	if contents != "" {
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return NewManager(path)
}

func TestManagerCreatesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	if cfg.ServerPort != 8080 {
		t.Fatalf("ServerPort = %d", cfg.ServerPort)
	}
	if cfg.Capture.TargetFPS != 30 {
		t.Fatalf("TargetFPS = %v", cfg.Capture.TargetFPS)
	}
	if !cfg.Capture.PreferCompositor {
		t.Fatal("PreferCompositor default should be true")
	}

	// The default file must have been written out.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
}

func TestManagerLoadsFile(t *testing.T) {
	m, err := testManager(t, `
server_port: 9090
log_level: debug
capture:
  target_fps: 15
  adaptive: true
preview:
  jpeg_quality: 60
  max_width: 800
`)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	if cfg.ServerPort != 9090 {
		t.Fatalf("ServerPort = %d", cfg.ServerPort)
	}
	if cfg.Capture.TargetFPS != 15 {
		t.Fatalf("TargetFPS = %v", cfg.Capture.TargetFPS)
	}
	if cfg.Preview.JPEGQuality != 60 || cfg.Preview.MaxWidth != 800 {
		t.Fatalf("Preview = %+v", cfg.Preview)
	}
}

func TestManagerFillsZeroValues(t *testing.T) {
	m, err := testManager(t, "log_level: warn\n")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	if cfg.ServerPort != 8080 {
		t.Fatalf("ServerPort = %d, want default", cfg.ServerPort)
	}
	if cfg.Capture.TargetFPS != 30 {
		t.Fatalf("TargetFPS = %v, want default", cfg.Capture.TargetFPS)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestManagerRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"bad port", "server_port: 70000\n"},
		{"negative fps", "capture:\n  target_fps: -5\n"},
		{"bad quality", "preview:\n  jpeg_quality: 101\n"},
		{"not yaml", "{{{\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := testManager(t, tc.contents); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestManagerUpdateRoundTrip(t *testing.T) {
	m, err := testManager(t, "")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	cfg.ServerPort = 9999
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := NewManager(m.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Get().ServerPort != 9999 {
		t.Fatalf("ServerPort after reload = %d", reloaded.Get().ServerPort)
	}
}

func TestManagerUpdateValidates(t *testing.T) {
	m, err := testManager(t, "")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	cfg.Preview.JPEGQuality = 200
	if err := m.Update(cfg); err == nil {
		t.Fatal("invalid update accepted")
	}
}
