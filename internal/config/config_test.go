package config

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_Load_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Errorf("expected default listen address, got %q", cfg.Listen)
	}
	if cfg.Runtime != "docker" {
		t.Errorf("expected default runtime, got %q", cfg.Runtime)
	}
	if cfg.Gateway.Port != 18789 {
		t.Errorf("expected default gateway port, got %d", cfg.Gateway.Port)
	}
}

func Test_Load_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moltworker.yaml")
	content := `
listen: ":9000"
runtime: dagger
gateway:
  image: custom/gateway:v2
  command: ["gateway", "--listen", ":7000"]
  port: 7000
  poll_interval_ms: 100
  max_attempts: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %q", cfg.Listen)
	}
	if cfg.Runtime != "dagger" {
		t.Errorf("expected dagger runtime, got %q", cfg.Runtime)
	}
	if cfg.Gateway.Image != "custom/gateway:v2" {
		t.Errorf("unexpected image: %q", cfg.Gateway.Image)
	}
	if len(cfg.Gateway.Command) != 3 || cfg.Gateway.Command[0] != "gateway" {
		t.Errorf("unexpected command: %v", cfg.Gateway.Command)
	}
	if cfg.Gateway.Port != 7000 {
		t.Errorf("expected port 7000, got %d", cfg.Gateway.Port)
	}
}

func Test_Load_EnvOverrides(t *testing.T) {
	t.Setenv("MOLTWORKER_LISTEN", ":9999")
	t.Setenv("MOLTWORKER_GATEWAY_COMMAND", "gw --flag value")
	t.Setenv("MOLTWORKER_GATEWAY_PORT", "4000")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":9999" {
		t.Errorf("expected env listen override, got %q", cfg.Listen)
	}
	if len(cfg.Gateway.Command) != 3 || cfg.Gateway.Command[1] != "--flag" {
		t.Errorf("unexpected command: %v", cfg.Gateway.Command)
	}
	if cfg.Gateway.Port != 4000 {
		t.Errorf("expected env port override, got %d", cfg.Gateway.Port)
	}
}

func Test_Load_InvalidRuntime(t *testing.T) {
	t.Setenv("MOLTWORKER_RUNTIME", "podman")

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for unknown runtime")
	}
}
