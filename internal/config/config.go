package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// HighWatermarkEnv overrides watchdog.high_watermark_bytes when set to a
// parseable byte count. Absent or malformed values are ignored.
const HighWatermarkEnv = "WARDEN_MEMORY_HIGH_WATERMARK"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Relay    RelayConfig    `yaml:"relay"`
	Quote    QuoteConfig    `yaml:"quote"`
	Launch   []Program      `yaml:"launch"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	// File enables rotating file logging when non-empty. Empty means stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type WatchdogConfig struct {
	// PID is the target process. Zero means the daemon watches itself.
	PID           int32         `yaml:"pid"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	HighWatermark uint64        `yaml:"high_watermark_bytes"`
	LowWatermark  uint64        `yaml:"low_watermark_bytes"`
}

type RelayConfig struct {
	URL         string        `yaml:"url"`
	EventPrefix string        `yaml:"event_prefix"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type QuoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Program describes one auxiliary tool to bootstrap at startup. Alternatives
// are tried in order; the first that spawns wins.
type Program struct {
	Name         string       `yaml:"name"`
	Alternatives []LaunchSpec `yaml:"alternatives"`
}

type LaunchSpec struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
	Dir  string   `yaml:"dir"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7430,
			Host: "127.0.0.1",
		},
		Log: LogConfig{
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Watchdog: WatchdogConfig{
			PollInterval:  15 * time.Second,
			HighWatermark: 130 * 1024 * 1024,
			LowWatermark:  120 * 1024 * 1024,
		},
		Relay: RelayConfig{
			URL:         "http://localhost:11434/api/generate",
			EventPrefix: "chat",
			IdleTimeout: 2 * time.Minute,
		},
		Quote: QuoteConfig{
			BaseURL: "https://api.coingecko.com",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the built-in defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is present.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(HighWatermarkEnv); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			c.Watchdog.HighWatermark = n
		}
	}
}

// Validate enforces cross-field invariants. The watermark ordering is what
// gives the watchdog its hysteresis band.
func (c *Config) Validate() error {
	if c.Watchdog.LowWatermark >= c.Watchdog.HighWatermark {
		return fmt.Errorf("watchdog: low watermark (%d) must be below high watermark (%d)",
			c.Watchdog.LowWatermark, c.Watchdog.HighWatermark)
	}
	if c.Watchdog.PollInterval <= 0 {
		return fmt.Errorf("watchdog: poll interval must be positive, got %s", c.Watchdog.PollInterval)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	for i, p := range c.Launch {
		if len(p.Alternatives) == 0 {
			return fmt.Errorf("launch[%d] (%s): no alternatives", i, p.Name)
		}
	}
	return nil
}
