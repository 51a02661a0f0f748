package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scrapewatch/internal/cli"
	"github.com/ppiankov/scrapewatch/internal/config"
)

var (
	version = "dev"

	cfg        *config.Config
	configPath string
	timeoutStr string
	verbose    bool
	jsonErrors bool
)

func main() {
	if err := execute(); err != nil {
		cli.FormatError(os.Stderr, err, jsonErrors)
		os.Exit(cli.ExitCode(err))
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scrapewatch",
		Short:         "Live log console for the price scraper backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.scrapewatch/config.yaml, ./.scrapewatch.yaml)")
	root.PersistentFlags().StringVar(&timeoutStr, "timeout", "", "timeout for one-shot backend and cloud requests (default 10s)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	root.PersistentFlags().BoolVar(&jsonErrors, "json-errors", false, "print errors as JSON")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newCompletionCmd())
	return root
}

func loadConfig(cmd *cobra.Command) error {
	if configPath == "" {
		cfg = config.Load()
	} else {
		c, err := config.LoadFrom(configPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cli.NewNotFoundError(fmt.Sprintf("config file %s not found", configPath))
			}
			return cli.NewUsageError(fmt.Sprintf("load config %s: %v", configPath, err))
		}
		cfg = c
	}
	if !cmd.Flags().Changed("verbose") && cfg.Defaults.Verbose {
		verbose = true
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scrapewatch version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scrapewatch %s\n", version)
		},
	}
}
