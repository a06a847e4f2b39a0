package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "moltworker.yaml"

// Config holds the server configuration, loaded from a yaml file with
// MOLTWORKER_* environment overrides on top.
type Config struct {
	Listen  string  `yaml:"listen"`
	Runtime string  `yaml:"runtime"` // "docker" or "dagger"
	Gateway Gateway `yaml:"gateway"`
}

// Gateway identifies the backend gateway process and its readiness policy.
type Gateway struct {
	Image          string   `yaml:"image"`
	Command        []string `yaml:"command"`
	Port           int      `yaml:"port"`
	PollIntervalMs int      `yaml:"poll_interval_ms"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		Runtime: "docker",
		Gateway: Gateway{
			Image:          "moltbot/gateway:latest",
			Command:        []string{"moltbot-gateway", "--port", "18789"},
			Port:           18789,
			PollIntervalMs: 500,
			MaxAttempts:    20,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MOLTWORKER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("MOLTWORKER_RUNTIME"); v != "" {
		c.Runtime = v
	}
	if v := os.Getenv("MOLTWORKER_GATEWAY_IMAGE"); v != "" {
		c.Gateway.Image = v
	}
	if v := os.Getenv("MOLTWORKER_GATEWAY_COMMAND"); v != "" {
		c.Gateway.Command = strings.Fields(v)
	}
	if v := os.Getenv("MOLTWORKER_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
}

func (c *Config) validate() error {
	switch c.Runtime {
	case "docker", "dagger":
	default:
		return fmt.Errorf("unknown runtime %q (want docker or dagger)", c.Runtime)
	}
	if len(c.Gateway.Command) == 0 {
		return fmt.Errorf("gateway command is required")
	}
	if c.Gateway.Port <= 0 {
		return fmt.Errorf("gateway port is required")
	}
	return nil
}
