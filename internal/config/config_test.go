package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `backend:
  url: "http://scraper:8000"
  token: "secret"
  transport: poll
  reconnect_delay: "5s"
  poll_interval: "2s"
watch:
  buffer: 500
  metrics_addr: ":9100"
  alert_rules: "/etc/scrapewatch/alerts.yaml"
notify:
  webhooks:
    - "https://hooks.example.com/a"
  webhook_events: "rate_limit,alert"
  webhook_secret: "s3cr3t"
cloud:
  upload: "s3://bucket/snapshots"
  region: "eu-west-1"
defaults:
  timeout: "60s"
  verbose: true
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Backend.URL != "http://scraper:8000" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.Token != "secret" || cfg.Backend.Transport != "poll" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.Backend.ReconnectDelay != "5s" || cfg.Backend.PollInterval != "2s" {
		t.Errorf("Backend delays = %q %q", cfg.Backend.ReconnectDelay, cfg.Backend.PollInterval)
	}
	if cfg.Watch.Buffer != 500 || cfg.Watch.MetricsAddr != ":9100" {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Watch.AlertRules != "/etc/scrapewatch/alerts.yaml" {
		t.Errorf("Watch.AlertRules = %q", cfg.Watch.AlertRules)
	}
	if len(cfg.Notify.Webhooks) != 1 || cfg.Notify.WebhookEvents != "rate_limit,alert" || cfg.Notify.WebhookSecret != "s3cr3t" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Cloud.Upload != "s3://bucket/snapshots" || cfg.Cloud.Region != "eu-west-1" {
		t.Errorf("Cloud = %+v", cfg.Cloud)
	}
	if cfg.Defaults.Timeout != "60s" || !cfg.Defaults.Verbose {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	path := writeConfig(t, "backend: [unclosed\n")
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadReturnsEmptyOnMissingFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.Backend.URL != "" {
		t.Errorf("Backend.URL = %q, want empty", cfg.Backend.URL)
	}
}

func TestLoadCWDOverridesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".scrapewatch"), 0o755); err != nil {
		t.Fatal(err)
	}
	homeCfg := "backend:\n  url: http://home:8000\n  token: hometoken\n"
	if err := os.WriteFile(filepath.Join(home, ".scrapewatch", "config.yaml"), []byte(homeCfg), 0o644); err != nil {
		t.Fatal(err)
	}

	cwd := t.TempDir()
	t.Chdir(cwd)
	if err := os.WriteFile(filepath.Join(cwd, ".scrapewatch.yaml"), []byte("backend:\n  url: http://cwd:8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load()
	if cfg.Backend.URL != "http://cwd:8000" {
		t.Errorf("Backend.URL = %q, want cwd override", cfg.Backend.URL)
	}
	if cfg.Backend.Token != "hometoken" {
		t.Errorf("Backend.Token = %q, want value kept from home config", cfg.Backend.Token)
	}
}

func TestEnvOverridesConfig(t *testing.T) {
	path := writeConfig(t, "backend:\n  url: http://from-config:8000\n  transport: socket\n")

	t.Setenv("SCRAPEWATCH_BACKEND", "http://from-env:8000")
	t.Setenv("SCRAPEWATCH_TRANSPORT", "poll")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "http://from-env:8000" {
		t.Errorf("Backend.URL = %q, want env override", cfg.Backend.URL)
	}
	if cfg.Backend.Transport != "poll" {
		t.Errorf("Backend.Transport = %q, want env override", cfg.Backend.Transport)
	}
}

func TestEnvVerbose(t *testing.T) {
	for _, tt := range []struct {
		val  string
		want bool
	}{{"true", true}, {"1", true}, {"TRUE", true}, {"false", false}, {"0", false}} {
		t.Setenv("SCRAPEWATCH_VERBOSE", tt.val)
		cfg := &Config{}
		applyEnv(cfg)
		if cfg.Defaults.Verbose != tt.want {
			t.Errorf("SCRAPEWATCH_VERBOSE=%s: Verbose = %v, want %v", tt.val, cfg.Defaults.Verbose, tt.want)
		}
	}
}

func TestEnvBufferInvalidIgnored(t *testing.T) {
	t.Setenv("SCRAPEWATCH_BUFFER", "lots")
	cfg := &Config{Watch: WatchConfig{Buffer: 200}}
	applyEnv(cfg)
	if cfg.Watch.Buffer != 200 {
		t.Errorf("Buffer = %d, want 200 kept", cfg.Watch.Buffer)
	}
}

func TestAllEnvVars(t *testing.T) {
	t.Setenv("SCRAPEWATCH_BACKEND", "http://b:1")
	t.Setenv("SCRAPEWATCH_TOKEN", "tok")
	t.Setenv("SCRAPEWATCH_TRANSPORT", "poll")
	t.Setenv("SCRAPEWATCH_RECONNECT_DELAY", "4s")
	t.Setenv("SCRAPEWATCH_POLL_INTERVAL", "500ms")
	t.Setenv("SCRAPEWATCH_BUFFER", "250")
	t.Setenv("SCRAPEWATCH_METRICS_ADDR", ":9200")
	t.Setenv("SCRAPEWATCH_ALERT_RULES", "rules.yaml")
	t.Setenv("SCRAPEWATCH_WEBHOOKS", "http://a,http://b")
	t.Setenv("SCRAPEWATCH_WEBHOOK_EVENTS", "alert")
	t.Setenv("SCRAPEWATCH_WEBHOOK_SECRET", "k")
	t.Setenv("SCRAPEWATCH_UPLOAD", "gs://bucket")
	t.Setenv("SCRAPEWATCH_TIMEOUT", "10s")
	t.Setenv("SCRAPEWATCH_VERBOSE", "1")

	cfg := &Config{}
	applyEnv(cfg)

	want := Config{
		Backend: BackendConfig{URL: "http://b:1", Token: "tok", Transport: "poll", ReconnectDelay: "4s", PollInterval: "500ms"},
		Watch:   WatchConfig{Buffer: 250, MetricsAddr: ":9200", AlertRules: "rules.yaml"},
		Notify:  NotifyConfig{WebhookEvents: "alert", WebhookSecret: "k"},
		Cloud:   CloudConfig{Upload: "gs://bucket"},
		Defaults: DefaultsConfig{
			Timeout: "10s",
			Verbose: true,
		},
	}
	if cfg.Backend != want.Backend {
		t.Errorf("Backend = %+v, want %+v", cfg.Backend, want.Backend)
	}
	if cfg.Watch != want.Watch {
		t.Errorf("Watch = %+v, want %+v", cfg.Watch, want.Watch)
	}
	if len(cfg.Notify.Webhooks) != 2 || cfg.Notify.Webhooks[1] != "http://b" {
		t.Errorf("Webhooks = %v", cfg.Notify.Webhooks)
	}
	if cfg.Notify.WebhookEvents != want.Notify.WebhookEvents || cfg.Notify.WebhookSecret != want.Notify.WebhookSecret {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Cloud != want.Cloud {
		t.Errorf("Cloud = %+v", cfg.Cloud)
	}
	if cfg.Defaults != want.Defaults {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
}
