package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/app"
	"github.com/ppiankov/birdman/internal/orchestrator"
	"github.com/ppiankov/birdman/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every configured source until interrupted",
	Long: `Start every configured source and deliver their items to the listeners.

The process runs until interrupted (Ctrl+C) or SIGTERM, or until every
source has stopped. SIGHUP restarts all sources and listeners without
exiting.

Example:
  birdman run -c birdman.yaml -a auth.yaml`,
	RunE: runAction,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	doc, creds, err := loadInputs()
	if err != nil {
		return err
	}
	logger.Info("config loaded", "sources", len(doc.Sources), "listeners", len(doc.Listeners), "state", doc.State)

	var tel *telemetry.Output
	if traceSpans {
		tel = telemetry.New(logger, slog.LevelInfo)
		defer tel.Close()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	err = app.Run(ctx, app.Config{
		Document:    doc,
		Credentials: creds,
		Logger:      logger,
		Stdout:      cmd.OutOrStdout(),
		Telemetry:   tel,
	}, func(o *orchestrator.Orchestrator) {
		go restartOnSignal(ctx, hup, o, logger)
	})

	if errors.Is(err, orchestrator.ErrSourcesExhausted) {
		return fmt.Errorf("every source stopped, see log for causes: %w", err)
	}
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

type restarter interface {
	Restart()
}

func restartOnSignal(ctx context.Context, sig <-chan os.Signal, r restarter, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			logger.Info("SIGHUP received, restarting")
			r.Restart()
		}
	}
}
