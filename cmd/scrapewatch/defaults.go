package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/scrapewatch/internal/cli"
	"github.com/ppiankov/scrapewatch/internal/contextutil"
	"github.com/ppiankov/scrapewatch/internal/feed"
)

const defaultTimeout = 10 * time.Second

// probeContext returns a context with the configured timeout for one-shot
// backend and cloud requests. The caller must call cancel when done.
func probeContext() (context.Context, context.CancelFunc) {
	return contextutil.NewProbeContext(requestTimeout())
}

func requestTimeout() time.Duration {
	timeout := defaultTimeout

	// Flag overrides config
	if timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			timeout = d
		}
	} else if cfg != nil && cfg.Defaults.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Defaults.Timeout); err == nil {
			timeout = d
		}
	}
	return timeout
}

// applyConfigDefaults sets flag values from config when the flag
// was not explicitly set on the command line. Flags > env > config > defaults.
// The config package already handles env > config, so we just need to
// check if the flag was changed and apply config if not.
func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}

	setDefault := func(name, value string) {
		if value != "" && !cmd.Flags().Changed(name) {
			if f := cmd.Flags().Lookup(name); f != nil {
				_ = f.Value.Set(value)
			}
		}
	}

	// backend
	setDefault("backend", cfg.Backend.URL)
	setDefault("token", cfg.Backend.Token)
	setDefault("transport", cfg.Backend.Transport)
	setDefault("reconnect-delay", cfg.Backend.ReconnectDelay)
	setDefault("poll-interval", cfg.Backend.PollInterval)

	// watch
	if cfg.Watch.Buffer > 0 {
		setDefault("buffer", strconv.Itoa(cfg.Watch.Buffer))
	}
	setDefault("metrics-addr", cfg.Watch.MetricsAddr)
	setDefault("alert-rules", cfg.Watch.AlertRules)

	// notify
	setDefault("webhook", strings.Join(cfg.Notify.Webhooks, ","))
	setDefault("webhook-events", cfg.Notify.WebhookEvents)
	setDefault("webhook-secret", cfg.Notify.WebhookSecret)

	// cloud
	setDefault("upload", cfg.Cloud.Upload)
	setDefault("region", cfg.Cloud.Region)
	setDefault("credentials-file", cfg.Cloud.CredentialsFile)
}

// backendFlags are the connection flags shared by watch, export and check.
type backendFlags struct {
	backend        string
	token          string
	transport      string
	reconnectDelay time.Duration
	pollInterval   time.Duration
}

func (b *backendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&b.backend, "backend", "b", "", "scraper backend address, e.g. http://localhost:8000 (required)")
	cmd.Flags().StringVar(&b.token, "token", "", "bearer token for the backend")
	cmd.Flags().StringVar(&b.transport, "transport", feed.TransportSocket, "live transport: socket or poll")
	cmd.Flags().DurationVar(&b.reconnectDelay, "reconnect-delay", feed.DefaultReconnectDelay, "fixed delay before redialing the socket")
	cmd.Flags().DurationVar(&b.pollInterval, "poll-interval", feed.DefaultPollInterval, "interval between poll requests")
}

func (b *backendFlags) validate() error {
	if strings.TrimSpace(b.backend) == "" {
		return cli.NewUsageError("--backend is required (or set SCRAPEWATCH_BACKEND)")
	}
	if b.reconnectDelay <= 0 {
		return cli.NewUsageError("--reconnect-delay must be positive")
	}
	if b.pollInterval <= 0 {
		return cli.NewUsageError("--poll-interval must be positive")
	}
	return nil
}

func (b *backendFlags) options(logger zerolog.Logger) feed.Options {
	return feed.Options{
		Backend:        b.backend,
		Token:          b.token,
		Transport:      b.transport,
		ReconnectDelay: b.reconnectDelay,
		PollInterval:   b.pollInterval,
		Logger:         logger,
	}
}

func (b *backendFlags) newFeed(logger zerolog.Logger) (feed.Feed, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	f, err := feed.New(b.options(logger))
	if err != nil {
		return nil, cli.NewUsageError(err.Error())
	}
	return f, nil
}

// newLogger builds the diagnostic logger. Debug level with --verbose.
func newLogger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
