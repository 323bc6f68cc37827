package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	redditClass          = "reddit"
	redditBaseURL        = "https://www.reddit.com"
	redditPageSize       = 100
	redditDefaultMaxPage = 10
)

// RedditConfig configures a subreddit source.
type RedditConfig struct {
	PollerConfig
	Subreddit string `yaml:"subreddit"`
	BaseURL   string `yaml:"base_url"`
	MaxPages  int    `yaml:"max_pages"`
}

// RedditCrawler pages through /r/<sub>/new.json. Reddit ids are base36
// and grow with time, so they decode straight into cursor ids.
type RedditCrawler struct {
	name      string
	subreddit string
	baseURL   string
	maxPages  int
	fetcher   *Fetcher
}

// NewRedditCrawler validates cfg and builds the crawler.
func NewRedditCrawler(name string, cfg RedditConfig) (*RedditCrawler, error) {
	sub := strings.TrimPrefix(strings.TrimSpace(cfg.Subreddit), "r/")
	if sub == "" {
		return nil, errors.New("reddit: subreddit is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = redditBaseURL
	}
	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = redditDefaultMaxPage
	}
	return &RedditCrawler{
		name:      name,
		subreddit: sub,
		baseURL:   strings.TrimRight(base, "/"),
		maxPages:  maxPages,
		fetcher:   NewFetcher(name, cfg.PollerConfig),
	}, nil
}

func redditName(subreddit string) string {
	return redditClass + "." + strings.TrimPrefix(subreddit, "r/")
}

func (rc *RedditCrawler) Crawl(ctx context.Context, visit func(Record) bool) error {
	after := ""
	for page := 0; page < rc.maxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(redditPageSize))
		q.Set("raw_json", "1")
		if after != "" {
			q.Set("after", after)
		}
		u := fmt.Sprintf("%s/r/%s/new.json?%s", rc.baseURL, url.PathEscape(rc.subreddit), q.Encode())

		var listing redditListing
		if err := rc.fetcher.GetJSON(ctx, u, &listing); err != nil {
			return err
		}
		if page == 0 && listing.Kind != "Listing" {
			return &StructuralError{Source: rc.name, Msg: fmt.Sprintf("unexpected listing kind %q", listing.Kind)}
		}

		for _, child := range listing.Data.Children {
			rec, err := rc.record(child.Data)
			if err != nil {
				return err
			}
			if !visit(rec) {
				return nil
			}
		}

		after = listing.Data.After
		if after == "" || len(listing.Data.Children) == 0 {
			return nil
		}
	}
	return nil
}

func (rc *RedditCrawler) record(p redditPost) (Record, error) {
	id, err := strconv.ParseInt(p.ID, 36, 64)
	if err != nil {
		return Record{}, &StructuralError{Source: rc.name, Msg: fmt.Sprintf("post id %q is not base36", p.ID), Err: err}
	}
	postedAt := time.Unix(int64(p.CreatedUTC), 0).UTC()

	return Record{
		ID:       id,
		PostedAt: postedAt,
		Payload: map[string]any{
			"url":        redditBaseURL + p.Permalink,
			"link":       p.URL,
			"title":      p.Title,
			"body":       p.Selftext,
			"nickname":   p.Author,
			"score":      p.Score,
			"comments":   p.NumComments,
			"post_id":    p.ID,
			"written_at": postedAt.Format(time.RFC3339),
		},
	}, nil
}

func (rc *RedditCrawler) Close() error {
	return rc.fetcher.Close()
}

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string        `json:"after"`
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}
