package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "huddle"
	configFileName = "config.yaml"
	dataDirName    = ".huddle"

	// DefaultCacheMax mirrors the local cache cap of the browser client.
	DefaultCacheMax = 200
	// DefaultPendingTimeout bounds how long a send may stay pending.
	DefaultPendingTimeout = 12 * time.Second
)

// Config is the client and server configuration.
type Config struct {
	Username       string         `yaml:"username"`
	Color          string         `yaml:"color,omitempty"`
	Tier           string         `yaml:"tier"`
	PendingTimeout time.Duration  `yaml:"pending_timeout"`
	Backend        BackendConfig  `yaml:"backend"`
	Cache          CacheConfig    `yaml:"cache"`
	Presence       PresenceConfig `yaml:"presence"`
	Log            LogConfig      `yaml:"log"`
	Server         ServerConfig   `yaml:"server"`
}

// BackendConfig points at the document store. An empty URL runs an
// in-process store, useful offline and in tests.
type BackendConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig selects the local cache driver.
type CacheConfig struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// PresenceConfig configures same-device presence and typing.
type PresenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServerConfig configures `huddle serve`.
type ServerConfig struct {
	Addr  string  `yaml:"addr"`
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	dataDir := DataDir()
	return Config{
		Username:       "Guest",
		Tier:           string(DefaultTier),
		PendingTimeout: DefaultPendingTimeout,
		Cache: CacheConfig{
			Driver:     "sqlite",
			Path:       filepath.Join(dataDir, "cache.db"),
			MaxEntries: DefaultCacheMax,
		},
		Presence: PresenceConfig{
			Enabled: true,
			Dir:     filepath.Join(dataDir, "presence"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "huddle.log"),
		},
		Server: ServerConfig{
			Addr:  ":4117",
			RPS:   5,
			Burst: 10,
		},
	}
}

// DataDir is where caches, presence files and logs live.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDirName
	}
	return filepath.Join(home, dataDirName)
}

// DefaultConfigPath returns ~/.config/huddle/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", configDirName, configFileName), nil
}

// LoadConfig reads defaults, then the YAML file (if present), then .env
// and HUDDLE_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("HUDDLE_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("HUDDLE_TIER"); v != "" {
		cfg.Tier = v
	}
	if v := os.Getenv("HUDDLE_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("HUDDLE_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("HUDDLE_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("HUDDLE_CACHE_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HUDDLE_CACHE_MAX: %w", err)
		}
		cfg.Cache.MaxEntries = n
	}
	if v := os.Getenv("HUDDLE_PENDING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HUDDLE_PENDING_TIMEOUT: %w", err)
		}
		cfg.PendingTimeout = d
	}
	if v := os.Getenv("HUDDLE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HUDDLE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	return nil
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" {
		c.Username = "Guest"
	}
	tier, err := ParseTier(c.Tier)
	if err != nil {
		return err
	}
	c.Tier = string(tier)
	if c.Color != "" && !ValidColor(c.Color) {
		return fmt.Errorf("invalid color %q (want #rrggbb)", c.Color)
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "", "sqlite":
		c.Cache.Driver = "sqlite"
	case "pebble", "none":
		c.Cache.Driver = strings.ToLower(c.Cache.Driver)
	default:
		return fmt.Errorf("unknown cache driver %q (want sqlite, pebble or none)", c.Cache.Driver)
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMax
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = DefaultPendingTimeout
	}
	return nil
}

// SaveConfig writes the configuration as YAML, creating parent dirs.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
