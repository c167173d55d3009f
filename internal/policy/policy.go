// Package policy implements configuration loading and runtime defaults
// for the bridge.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns the default global state directory (~/.crewbridge).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".crewbridge")
}

// TelegramConfig holds chat transport settings. The bot token and
// webhook secret are secrets and come from the environment, never from
// the config file.
type TelegramConfig struct {
	// WebhookURL is the public HTTPS endpoint registered with the Bot
	// API on startup. Empty disables webhook registration.
	WebhookURL string `yaml:"webhook_url"`
	// AdminChatID pins the owning account. Zero means the first chat
	// to write becomes the admin and is persisted.
	AdminChatID int64 `yaml:"admin_chat_id"`

	BotToken      string `yaml:"-"`
	WebhookSecret string `yaml:"-"`
}

// WorkerDefaults configures how new workers are spawned.
type WorkerDefaults struct {
	// Backend selects the process model: "interactive" (tmux pane) or
	// "pipe" (stdin/stdout frames).
	Backend string `yaml:"backend"`
	// Command spawns an interactive worker inside its session.
	Command []string `yaml:"command"`
	// PipeCommand spawns a pipe-driven worker.
	PipeCommand []string `yaml:"pipe_command"`
	// Env sets additional environment variables for spawned workers,
	// merged on top of the inherited environment.
	Env map[string]string `yaml:"env"`
}

// MCPConfig controls the MCP control plane mounted at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config holds bridge configuration.
type Config struct {
	// Node names this bridge instance. Session names are prefixed with
	// "crew-<node>-" so several nodes can share one tmux server.
	Node string `yaml:"node"`

	HTTPPort int    `yaml:"http_port"`
	StateDir string `yaml:"state_dir"`
	LogFile  string `yaml:"log_file"`

	PendingTTLSeconds      int `yaml:"pending_ttl_seconds"`
	TypingIntervalSeconds  int `yaml:"typing_interval_seconds"`
	WatchdogIntervalSecond int `yaml:"watchdog_interval_seconds"`

	Telegram TelegramConfig `yaml:"telegram"`
	Workers  WorkerDefaults `yaml:"workers"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// DefaultConfig returns sensible defaults for a single-node bridge.
func DefaultConfig() *Config {
	return &Config{
		Node:                   "default",
		HTTPPort:               8081,
		PendingTTLSeconds:      600,
		TypingIntervalSeconds:  4,
		WatchdogIntervalSecond: 60,
		Workers: WorkerDefaults{
			Backend: "interactive",
			Command: []string{"claude"},
		},
		MCP: MCPConfig{Enabled: true},
	}
}

// LoadConfig loads configuration from a YAML file, applies defaults for
// anything unset, and pulls secrets from the environment. An empty path
// skips the file and uses defaults only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.derive()
	return cfg, nil
}

// applyEnv pulls secrets and overrides from the environment.
func (c *Config) applyEnv() {
	c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.WebhookSecret = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.AdminChatID = id
		}
	}
	if v := os.Getenv("CREWBRIDGE_NODE"); v != "" {
		c.Node = v
	}
	if v := os.Getenv("CREWBRIDGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = p
		}
	}
}

// derive fills in paths computed from the node name.
func (c *Config) derive() {
	if c.Node == "" {
		c.Node = "default"
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(GlobalStateDir(), "nodes", c.Node)
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.StateDir, "crewbridge.log")
	}
}

// SessionPrefix returns the tmux session prefix for this node.
func (c *Config) SessionPrefix() string {
	return "crew-" + c.Node + "-"
}

// SessionsDir returns the directory holding per-worker state
// (pending markers, inbox, chat bindings).
func (c *Config) SessionsDir() string {
	return filepath.Join(c.StateDir, "sessions")
}

// HistoryFile returns the delivery history database path.
func (c *Config) HistoryFile() string {
	return filepath.Join(c.StateDir, "history.sqlite")
}

// BridgeURL returns the local base URL workers and hooks post back to.
func (c *Config) BridgeURL() string {
	return fmt.Sprintf("http://localhost:%d", c.HTTPPort)
}

// EnsureDirs creates the state and sessions directories.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.SessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return nil
}
