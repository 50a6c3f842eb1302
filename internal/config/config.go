package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the client.
type Config struct {
	ServerURL      string           `json:"server_url"`
	ChatModel      string           `json:"chat_model"`
	EmbeddingModel string           `json:"embedding_model"`
	SystemPrompt   string           `json:"system_prompt"`
	GeneratePrompt string           `json:"generate_prompt"`
	StateDir       string           `json:"state_dir"`
	Transcript     TranscriptConfig `json:"transcript"`
	Redis          RedisConfig      `json:"redis"`

	// path the config was loaded from; used by Save.
	path string
}

// TranscriptConfig selects the local transcript database.
type TranscriptConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// RedisConfig configures the optional redis-backed chat identity store.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

const (
	DefaultServerURL = "http://127.0.0.1:8080"
	DefaultChatModel = "llama3.2-vision:latest"
)

// Load reads configuration from the provided path (defaults to config.json).
// A missing file yields the defaults rather than an error so the client can
// run against a local backend with no setup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RAGCHAT_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{path: absPath}
	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.path = absPath
	cfg.applyDefaults()

	if !filepath.IsAbs(cfg.StateDir) {
		cfg.StateDir = filepath.Join(filepath.Dir(absPath), cfg.StateDir)
	}
	if cfg.Transcript.Driver == "sqlite3" && !filepath.IsAbs(cfg.Transcript.DSN) {
		cfg.Transcript.DSN = filepath.Join(filepath.Dir(absPath), cfg.Transcript.DSN)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.ChatModel == "" {
		c.ChatModel = DefaultChatModel
	}
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.StateDir = filepath.Join(home, ".ragchat")
		} else {
			c.StateDir = ".ragchat"
		}
	}
	if c.Transcript.Driver == "" {
		c.Transcript.Driver = "sqlite3"
	}
	if c.Transcript.Driver == "sqlite3" && c.Transcript.DSN == "" {
		c.Transcript.DSN = filepath.Join(c.StateDir, "transcript.db")
	}
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(c.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	return nil
}

// Path reports the file backing this configuration.
func (c *Config) Path() string {
	return c.path
}
