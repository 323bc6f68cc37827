package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config and credentials file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	created := 0

	wrote, err := writeIfNotExists(out, configPath, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	creds := authPath
	if creds == "" {
		creds = config.DefaultCredentialsFile
	}
	wrote, err = writeIfNotExists(out, creds, []byte(exampleCredentials), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Fprintln(out, "Already initialized.")
	} else {
		fmt.Fprintf(out, "Initialized %d config files. Check them with 'birdman validate'.\n", created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(out io.Writer, path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# birdman configuration

# sqlite file holding each source's resume cursor; remove to keep
# cursors in memory only
state: .birdman/state.db

sources:
  # defaults for every source below
  - class: global
    recrawl_interval: 30m
    timeout: 5s
    page_interval: 0.5s
    max_retries: 3
    max_failed_epochs: 5

  - class: dcinside
    gallery_id: cat
    # minor_gallery: true
    # include_comments: false

  - class: todayhumor
    board_id: animal

  - class: rss
    feed: https://go.dev/blog/feed.atom

  - class: reddit
    subreddit: golang

  - class: hn
    min_points: 50

  # needs auth.twitter.bearer_token in the credentials file
  # - class: twitter
  #   word_list: [golang, gopher]
  #   remove_mentions: true

  # any program printing one JSON object per line, newest first, each with
  # an integer "id"
  # - class: command
  #   command: ./collectors/telegram.py
  #   args: ["--channel", "@example"]
  #   credentials_key: telegram

listeners:
  - class: console

  - class: text
    file: .birdman/items.log
    format: "{{.url}}\t{{.nickname}}\t{{.written_at}}"

  - class: sqlite
    path: .birdman/items.db
    retain_days: 30
    redact:
      - '\b\d{3}-\d{3,4}-\d{4}\b'

  # - class: jsonl
  #   file: .birdman/items.jsonl
  #   sources: [reddit.golang, hn]
`

const exampleCredentials = `# birdman credentials, merged into every source under "auth"
# keys ending in _env are read from the environment

# twitter:
#   bearer_token_env: TWITTER_BEARER_TOKEN

# telegram:
#   api_id_env: TELEGRAM_API_ID
#   api_hash_env: TELEGRAM_API_HASH
`
