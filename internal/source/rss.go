package source

import (
	"bytes"
	"context"
	"errors"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const rssClass = "rss"

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// RSSConfig configures a feed source.
type RSSConfig struct {
	PollerConfig
	Feed string `yaml:"feed"`
}

// RSSCrawler reads an RSS or Atom feed. Items are keyed by their publish
// time in unix seconds, since feeds carry no numeric ids.
type RSSCrawler struct {
	name    string
	feed    string
	fetcher *Fetcher
	parser  *gofeed.Parser
}

// NewRSSCrawler validates cfg and builds the crawler.
func NewRSSCrawler(name string, cfg RSSConfig) (*RSSCrawler, error) {
	if strings.TrimSpace(cfg.Feed) == "" {
		return nil, errors.New("rss: feed URL is required")
	}
	return &RSSCrawler{
		name:    name,
		feed:    cfg.Feed,
		fetcher: NewFetcher(name, cfg.PollerConfig),
		parser:  gofeed.NewParser(),
	}, nil
}

// rssName derives the default source name from the feed host.
func rssName(feed string) string {
	return rssClass + "." + feedDomain(feed)
}

func (rc *RSSCrawler) Crawl(ctx context.Context, visit func(Record) bool) error {
	resp, err := rc.fetcher.Get(ctx, rc.feed)
	if err != nil {
		return err
	}
	feed, err := rc.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return &StructuralError{Source: rc.name, Msg: "feed does not parse", Err: err}
	}

	for _, rec := range recordsFromFeed(feed, rc.feed) {
		if !visit(rec) {
			return nil
		}
	}
	return nil
}

func (rc *RSSCrawler) Close() error {
	return rc.fetcher.Close()
}

// recordsFromFeed returns dated feed items newest first. Undated items
// cannot be placed against a cursor and are dropped.
func recordsFromFeed(feed *gofeed.Feed, feedURL string) []Record {
	var recs []Record
	for _, item := range feed.Items {
		postedAt := itemPublishedTime(item)
		if postedAt.IsZero() {
			continue
		}
		payload := map[string]any{
			"url":        item.Link,
			"title":      item.Title,
			"body":       itemText(item),
			"channel":    feedLabel(feed, feedURL),
			"guid":       itemID(item),
			"written_at": postedAt.UTC().Format(time.RFC3339),
		}
		if item.Author != nil && item.Author.Name != "" {
			payload["nickname"] = item.Author.Name
		}
		recs = append(recs, Record{
			ID:       postedAt.Unix(),
			PostedAt: postedAt,
			Payload:  payload,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
	return recs
}

// feedDomain extracts the host from a feed URL.
func feedDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func feedLabel(feed *gofeed.Feed, feedURL string) string {
	if feed.Title != "" {
		return feed.Title
	}
	return feedURL
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func itemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	return stripHTML(raw)
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
