package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds persistent defaults loaded from config files.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Watch    WatchConfig    `yaml:"watch"`
	Notify   NotifyConfig   `yaml:"notify"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// BackendConfig describes how to reach the scraper backend.
type BackendConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	Transport      string `yaml:"transport"`       // socket or poll
	ReconnectDelay string `yaml:"reconnect_delay"` // e.g. "3s"
	PollInterval   string `yaml:"poll_interval"`   // e.g. "1s"
}

// WatchConfig holds live viewer defaults.
type WatchConfig struct {
	Buffer      int    `yaml:"buffer"`
	MetricsAddr string `yaml:"metrics_addr"`
	AlertRules  string `yaml:"alert_rules"`
}

// NotifyConfig holds webhook defaults.
type NotifyConfig struct {
	Webhooks      []string `yaml:"webhooks"`
	WebhookEvents string   `yaml:"webhook_events"`
	WebhookSecret string   `yaml:"webhook_secret"`
}

// CloudConfig holds object storage defaults for snapshot uploads.
type CloudConfig struct {
	Upload          string `yaml:"upload"` // s3://bucket/prefix or gs://bucket/prefix
	Region          string `yaml:"region"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DefaultsConfig holds global defaults.
type DefaultsConfig struct {
	Timeout string `yaml:"timeout"`
	Verbose bool   `yaml:"verbose"`
}

// Load reads config from ~/.scrapewatch/config.yaml then CWD .scrapewatch.yaml.
// CWD config values override home config. Missing files are not errors.
// Environment variables (SCRAPEWATCH_*) override config file values.
func Load() *Config {
	cfg := &Config{}

	// home config
	if home, err := os.UserHomeDir(); err == nil {
		_ = loadFile(filepath.Join(home, ".scrapewatch", "config.yaml"), cfg)
	}

	// CWD config overrides
	_ = loadFile(".scrapewatch.yaml", cfg)

	applyEnv(cfg)

	return cfg
}

// LoadFrom reads config from a specific path, then applies env overrides.
// Used for --config and testing.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SCRAPEWATCH_BACKEND"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("SCRAPEWATCH_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("SCRAPEWATCH_TRANSPORT"); v != "" {
		cfg.Backend.Transport = v
	}
	if v := os.Getenv("SCRAPEWATCH_RECONNECT_DELAY"); v != "" {
		cfg.Backend.ReconnectDelay = v
	}
	if v := os.Getenv("SCRAPEWATCH_POLL_INTERVAL"); v != "" {
		cfg.Backend.PollInterval = v
	}
	if v := os.Getenv("SCRAPEWATCH_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.Buffer = n
		}
	}
	if v := os.Getenv("SCRAPEWATCH_METRICS_ADDR"); v != "" {
		cfg.Watch.MetricsAddr = v
	}
	if v := os.Getenv("SCRAPEWATCH_ALERT_RULES"); v != "" {
		cfg.Watch.AlertRules = v
	}
	if v := os.Getenv("SCRAPEWATCH_WEBHOOKS"); v != "" {
		cfg.Notify.Webhooks = strings.Split(v, ",")
	}
	if v := os.Getenv("SCRAPEWATCH_WEBHOOK_EVENTS"); v != "" {
		cfg.Notify.WebhookEvents = v
	}
	if v := os.Getenv("SCRAPEWATCH_WEBHOOK_SECRET"); v != "" {
		cfg.Notify.WebhookSecret = v
	}
	if v := os.Getenv("SCRAPEWATCH_UPLOAD"); v != "" {
		cfg.Cloud.Upload = v
	}
	if v := os.Getenv("SCRAPEWATCH_TIMEOUT"); v != "" {
		cfg.Defaults.Timeout = v
	}
	if v := os.Getenv("SCRAPEWATCH_VERBOSE"); v != "" {
		cfg.Defaults.Verbose = strings.EqualFold(v, "true") || v == "1"
	}
}
