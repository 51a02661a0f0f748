package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scrapewatch/internal/buffers"
	"github.com/ppiankov/scrapewatch/internal/cli"
	"github.com/ppiankov/scrapewatch/internal/cloud"
	"github.com/ppiankov/scrapewatch/internal/contextutil"
	"github.com/ppiankov/scrapewatch/internal/export"
	"github.com/ppiankov/scrapewatch/internal/live"
)

type exportOpts struct {
	backend         backendFlags
	buffer          int
	duration        time.Duration
	output          string
	format          string
	upload          string
	share           time.Duration
	overwrite       bool
	region          string
	credentialsFile string
}

func newExportCmd() *cobra.Command {
	var o exportOpts

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Collect the live stream for a while and write a snapshot file",
		Long: `Export follows the live stream for --duration (or until interrupted), then
writes the buffered entries as JSONL (zstd-compressed when the file ends in
.zst), CSV or Parquet. With --upload the file is copied to s3:// or gs://.`,
		Example: `  scrapewatch export -b http://localhost:8000 --duration 5m -o run.jsonl.zst
  scrapewatch export -b http://localhost:8000 -o run.parquet --upload s3://bucket/scrapes --share 24h`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(o)
		},
	}

	o.backend.register(cmd)
	cmd.Flags().IntVar(&o.buffer, "buffer", buffers.DefaultCapacity, "number of entries kept in memory")
	cmd.Flags().DurationVar(&o.duration, "duration", time.Minute, "how long to collect (0 = until interrupted)")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file (default scrapewatch-<time>.jsonl)")
	cmd.Flags().StringVar(&o.format, "format", "", "jsonl, csv or parquet (default from file extension)")
	cmd.Flags().StringVar(&o.upload, "upload", "", "upload the snapshot to s3://bucket/prefix or gs://bucket/prefix")
	cmd.Flags().DurationVar(&o.share, "share", 0, "print a signed download URL valid for this long (requires --upload)")
	cmd.Flags().BoolVar(&o.overwrite, "overwrite", false, "replace an existing object with the same name")
	cmd.Flags().StringVar(&o.region, "region", "", "AWS region for s3:// uploads")
	cmd.Flags().StringVar(&o.credentialsFile, "credentials-file", "", "service account JSON for gs:// uploads")

	return cmd
}

func runExport(o exportOpts) error {
	if o.buffer <= 0 {
		return cli.NewUsageError("--buffer must be positive")
	}
	if o.duration < 0 {
		return cli.NewUsageError("--duration must not be negative")
	}
	if o.share > 0 && o.upload == "" {
		return cli.NewUsageError("--share requires --upload")
	}
	if o.output == "" {
		o.output = fmt.Sprintf("scrapewatch-%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	}

	format := export.FormatFromPath(o.output)
	if o.format != "" {
		f, err := export.ParseFormat(o.format)
		if err != nil {
			return cli.NewUsageError(err.Error())
		}
		format = f
	}

	var scheme, bucket, prefix string
	if o.upload != "" {
		var err error
		scheme, bucket, prefix, err = cloud.ParseURL(o.upload)
		if err != nil {
			return cli.NewUsageError(fmt.Sprintf("invalid --upload: %v", err))
		}
	}

	logger := newLogger(os.Stderr)
	f, err := o.backend.newFeed(logger)
	if err != nil {
		return err
	}

	client := live.New(f,
		live.WithCapacity(o.buffer),
		live.WithLogger(logger),
		live.WithBackend(o.backend.backend),
		live.WithNotifier(logNotifier(logger)),
	)

	ctx, cancel := contextutil.WithInterrupt(context.Background(), o.duration)
	defer cancel()

	if o.duration > 0 {
		stderrf("collecting from %s for %s (Ctrl-C to stop early)\n", o.backend.backend, o.duration)
	} else {
		stderrf("collecting from %s until interrupted\n", o.backend.backend)
	}
	client.Start()
	<-ctx.Done()
	client.Stop()

	entries := client.Entries()
	snap := client.Stats()
	if snap.Received == 0 {
		stderrf("warning: no entries received from %s\n", o.backend.backend)
	}

	n, err := export.Write(o.output, format, entries)
	if err != nil {
		return cli.Classify(fmt.Errorf("write %s: %w", o.output, err))
	}
	stderrf("wrote %d entries to %s (%s)", n, o.output, format)
	if snap.Evicted > 0 {
		stderrf(", %d older entries evicted", snap.Evicted)
	}
	if snap.RateLimited > 0 {
		stderrf(", %d rate-limit warnings", snap.RateLimited)
	}
	stderrf("\n")

	if o.upload == "" {
		return nil
	}
	return uploadSnapshot(o, scheme, bucket, prefix)
}

func uploadSnapshot(o exportOpts, scheme, bucket, prefix string) error {
	ctx, cancel := probeContext()
	defer cancel()

	backend, err := cloud.NewBackend(ctx, scheme, bucket, cloud.Options{
		Region:          o.region,
		CredentialsFile: o.credentialsFile,
	})
	if err != nil {
		return cli.Classify(err)
	}
	return uploadWith(ctx, backend, o, prefix, fmt.Sprintf("%s://%s", scheme, bucket))
}

func uploadWith(ctx context.Context, backend cloud.Backend, o exportOpts, prefix, base string) error {
	key, err := cloud.UploadFile(ctx, backend, prefix, o.output, o.overwrite)
	if errors.Is(err, cloud.ErrObjectExists) {
		return cli.NewUsageError(fmt.Sprintf("%v (use --overwrite to replace it)", err))
	}
	if err != nil {
		return cli.Classify(err)
	}
	stderrf("uploaded %s/%s\n", base, key)

	if o.share > 0 {
		url, err := backend.ShareURL(ctx, key, o.share)
		if err != nil {
			return cli.Classify(err)
		}
		fmt.Println(url)
	}
	return nil
}
