package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/scrapewatch/internal/buffers"
	"github.com/ppiankov/scrapewatch/internal/cli"
	"github.com/ppiankov/scrapewatch/internal/contextutil"
	"github.com/ppiankov/scrapewatch/internal/live"
	"github.com/ppiankov/scrapewatch/internal/logtypes"
	"github.com/ppiankov/scrapewatch/internal/notify"
	"github.com/ppiankov/scrapewatch/internal/tui"
)

type watchOpts struct {
	backend        backendFlags
	buffer         int
	headless       bool
	jsonOutput     bool
	metricsAddr    string
	webhookURLs    []string
	webhookEvents  string
	webhookSecret  string
	alertRulesPath string
}

func newWatchCmd() *cobra.Command {
	var o watchOpts

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the backend's live log stream",
		Long: `Watch keeps one live connection to the scraper backend and shows the last
entries in a terminal viewer. The socket transport redials after a fixed delay
when the connection drops; the poll transport asks /api/logs for entries newer
than the last one seen.

With --headless, accepted entries are printed to stdout instead.`,
		Example: `  scrapewatch watch -b http://localhost:8000
  scrapewatch watch -b https://scraper.example.com --transport poll --headless --json`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(o)
		},
	}

	o.backend.register(cmd)
	cmd.Flags().IntVar(&o.buffer, "buffer", buffers.DefaultCapacity, "number of entries kept in memory")
	cmd.Flags().BoolVar(&o.headless, "headless", false, "disable the viewer, print entries to stdout")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "with --headless, print entries as JSON lines")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")
	cmd.Flags().StringSliceVar(&o.webhookURLs, "webhook", nil, "webhook URLs to notify on rate_limit and alert events (repeatable)")
	cmd.Flags().StringVar(&o.webhookEvents, "webhook-events", "", "comma-separated event filter (rate_limit,alert)")
	cmd.Flags().StringVar(&o.webhookSecret, "webhook-secret", "", "HMAC-SHA256 secret for signing webhook bodies")
	cmd.Flags().StringVar(&o.alertRulesPath, "alert-rules", "", "path to alert rules YAML file")

	return cmd
}

func runWatch(o watchOpts) error {
	if o.buffer <= 0 {
		return cli.NewUsageError("--buffer must be positive")
	}
	if o.jsonOutput && !o.headless {
		return cli.NewUsageError("--json requires --headless")
	}

	// the viewer owns the terminal, so diagnostics are dropped there
	logger := zerolog.Nop()
	if o.headless {
		logger = newLogger(os.Stderr)
	}

	f, err := o.backend.newFeed(logger)
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewWebhookDispatcher(o.webhookURLs, splitList(o.webhookEvents), o.webhookSecret)
	if err != nil {
		return cli.NewUsageError(err.Error())
	}

	notifiers := live.Multi{}
	if dispatcher != nil {
		notifiers = append(notifiers, dispatcher)
	}
	var toasts *live.ChanNotifier
	if o.headless {
		notifiers = append(notifiers, logNotifier(logger))
	} else {
		toasts = live.NewChanNotifier(16)
		notifiers = append(notifiers, toasts)
	}

	var alertEngine *live.AlertEngine
	if o.alertRulesPath != "" {
		rules, err := live.LoadAlertRules(o.alertRulesPath)
		if err != nil {
			return cli.Classify(fmt.Errorf("load alert rules: %w", err))
		}
		alertEngine = live.NewAlertEngine(rules, notifiers, o.backend.backend)
	}

	opts := []live.Option{
		live.WithCapacity(o.buffer),
		live.WithNotifier(notifiers),
		live.WithLogger(logger),
		live.WithBackend(o.backend.backend),
	}

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, live.WithMetrics(live.NewMetrics(reg)))
		srv, err := startMetricsServer(o.metricsAddr, reg, logger)
		if err != nil {
			return cli.NewUsageError(fmt.Sprintf("metrics listener: %v", err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if o.headless {
		p := &entryPrinter{w: os.Stdout, json: o.jsonOutput}
		opts = append(opts, live.WithEntryHook(p.print))
	}

	client := live.New(f, opts...)
	client.Start()
	defer client.Stop()

	if o.headless {
		ctx, cancel := contextutil.WithInterrupt(context.Background(), 0)
		defer cancel()
		return runHeadless(ctx, client, alertEngine, o.backend.transport)
	}
	return runTUI(client, toasts, alertEngine)
}

func runHeadless(ctx context.Context, client *live.Client, alertEngine *live.AlertEngine, transport string) error {
	stderrf("scrapewatch %s watching %s via %s\n", version, client.Backend(), transport)

	if alertEngine != nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return finishHeadless(client)
			case now := <-ticker.C:
				alertEngine.Evaluate(client.Stats(), now)
			}
		}
	}

	<-ctx.Done()
	return finishHeadless(client)
}

func finishHeadless(client *live.Client) error {
	client.Stop()
	snap := client.Stats()
	stderrf("done: %d received, %d buffered, %d suppressed, %d reconnects\n",
		snap.Received, snap.Buffered, snap.Suppressed, snap.Reconnects)
	return nil
}

func runTUI(client *live.Client, toasts *live.ChanNotifier, alertEngine *live.AlertEngine) error {
	model := tui.NewModel(client, toasts, alertEngine, version)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return srv, nil
}

// logNotifier reports notifications through the diagnostic logger.
func logNotifier(logger zerolog.Logger) live.Notifier {
	return live.NotifierFunc(func(n live.Notification) {
		logger.Warn().Str("kind", n.Kind).Str("detail", n.Detail).Msg(n.Title)
	})
}

// entryPrinter writes accepted entries to w, one per line.
type entryPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (p *entryPrinter) print(e logtypes.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(p.w, string(data))
		return
	}
	_, _ = fmt.Fprintf(p.w, "[%s] %-7s %s\n", e.Time, e.Level, e.Message)
}
