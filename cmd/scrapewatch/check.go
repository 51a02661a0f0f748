package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/scrapewatch/internal/cli"
	"github.com/ppiankov/scrapewatch/internal/feed"
)

// checkResult holds all check data for JSON output.
type checkResult struct {
	Backend string           `json:"backend"`
	Poll    feed.ProbeResult `json:"poll"`
	Socket  feed.ProbeResult `json:"socket"`
}

func newCheckCmd() *cobra.Command {
	var (
		b          backendFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the backend's log endpoints",
		Long: `Check requests /api/logs?since=0 once and opens /ws/logs once, then reports
whether each transport is usable. Exit code 5 means neither endpoint answered,
6 means only one of them did.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := b.validate(); err != nil {
				return err
			}
			ctx, cancel := probeContext()
			defer cancel()
			return runCheck(ctx, cmd.OutOrStdout(), b, jsonOutput)
		},
	}

	b.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, b backendFlags, jsonOutput bool) error {
	logger := zerolog.Nop()
	result := checkResult{
		Backend: b.backend,
		Poll:    feed.NewPollFeed(b.backend, b.token, logger).Probe(ctx),
		Socket:  feed.NewSocketFeed(b.backend, b.token, logger).Probe(ctx),
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(os.Stderr, "Backend:       %s\n", result.Backend)
		printProbe("Poll", result.Poll)
		printProbe("Socket", result.Socket)
	}

	switch {
	case result.Poll.OK && result.Socket.OK:
		return nil
	case result.Poll.OK || result.Socket.OK:
		return cli.NewDegradedError("only one log transport is reachable")
	default:
		return cli.NewNetworkError(fmt.Sprintf("backend %s unreachable: %s", b.backend, result.Poll.Error))
	}
}

func printProbe(name string, r feed.ProbeResult) {
	label := fmt.Sprintf("%s:", name)
	if r.OK {
		detail := fmt.Sprintf("%dms", r.LatencyMS)
		if name == "Poll" {
			detail = fmt.Sprintf("%d entries, %s", r.Entries, detail)
		}
		fmt.Fprintf(os.Stderr, "%-14s ok (%s) %s\n", label, detail, r.URL)
		return
	}
	fmt.Fprintf(os.Stderr, "%-14s failed: %s\n", label, r.Error)
}
