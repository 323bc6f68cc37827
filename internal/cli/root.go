// Package cli provides the command-line interface for birdman.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath string
	authPath   string
	logFormat  string
	verbose    bool
	traceSpans bool
)

var rootCmd = &cobra.Command{
	Use:   "birdman",
	Short: "Poll forums and feeds into one stream of items",
	Long: `birdman polls web forums, feeds and collector commands side by side,
merges what they find into one stream and hands every item to the
configured listeners (text files, jsonl, sqlite, console).

Quick start:
  1. Run: birdman init
  2. Edit birdman.yaml
  3. Run: birdman run -c birdman.yaml`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "birdman %s (%s)\n", Version, Commit)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to config file")
	flags.StringVarP(&authPath, "auth", "a", "", "path to credentials file merged into every source")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text, json")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&traceSpans, "trace", false, "log crawl epoch and dispatch spans")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger on w.
func newLogger(w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logFormat) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", logFormat)
	}
}

// loadInputs reads the config document and the optional credentials.
func loadInputs() (*config.Document, config.Options, error) {
	doc, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	creds, err := config.LoadCredentials(authPath)
	if err != nil {
		return nil, nil, err
	}
	return doc, creds, nil
}
