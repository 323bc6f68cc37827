package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/app"
	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, databases and collector commands",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true

	doc, creds, err := loadInputs()
	if err != nil {
		printCheck(out, false, "config %s: %v", configPath, err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(out, true, "config %s (%d sources, %d listeners)", configPath, len(doc.Sources), len(doc.Listeners))

	a, err := app.Build(ctx, app.Config{
		Document:    doc,
		Credentials: creds,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Stdout:      io.Discard,
	})
	if err != nil {
		printCheck(out, false, "build: %v", err)
		ok = false
	} else {
		printCheck(out, true, "build (%s)", strings.Join(a.SourceNames(), ", "))
		_ = a.Close()
	}

	if doc.State != "" {
		if st, err := store.Open(doc.State); err != nil {
			printCheck(out, false, "state %s: %v", doc.State, err)
			ok = false
		} else {
			printCheck(out, true, "state %s", doc.State)
			_ = st.Close()
		}
	} else {
		printInfo(out, "no state configured, cursors are kept in memory")
	}

	entries, err := config.Compose(doc.Sources, nil)
	if err == nil {
		for _, e := range entries {
			if e.Class != "command" {
				continue
			}
			if !checkCommand(out, e.Options) {
				ok = false
			}
		}
	}

	if path, err := sqliteListenerPath(doc); err == nil {
		if db, err := store.Open(path); err != nil {
			printCheck(out, false, "items %s: %v", path, err)
			ok = false
		} else {
			printCheck(out, true, "items %s", path)
			checkSourceHealth(ctx, out, db, time.Now())
			_ = db.Close()
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}

// checkCommand reports whether a command source's executable resolves.
func checkCommand(w io.Writer, opts config.Options) bool {
	command, _ := opts["command"].(string)
	if command == "" {
		return true // reported by build
	}
	path := command
	if dir, _ := opts["dir"].(string); dir != "" && strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) {
		path = filepath.Join(dir, command)
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		printCheck(w, false, "command %s: %v", command, err)
		return false
	}
	printCheck(w, true, "command %s", resolved)
	return true
}

// checkSourceHealth prints informational notes about sources that have
// gone quiet. It never fails the doctor run.
func checkSourceHealth(ctx context.Context, w io.Writer, db *store.Store, now time.Time) {
	stats, err := db.Stats(ctx, now.AddDate(0, 0, -30))
	if err != nil || len(stats) == 0 {
		return
	}

	staleThreshold := now.AddDate(0, 0, -staleDays)
	for _, s := range stats {
		if s.LastCrawl.Before(staleThreshold) {
			daysAgo := int(now.Sub(s.LastCrawl).Hours() / 24)
			printInfo(w, "stale: %s — last item %d days ago", s.Source, daysAgo)
		}
	}
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
