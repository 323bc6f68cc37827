package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	twitterClass          = "twitter"
	twitterBaseURL        = "https://api.twitter.com"
	twitterSearchPath     = "/2/tweets/search/recent"
	twitterWebURL         = "https://twitter.com"
	twitterPageSize       = 100
	twitterDefaultMaxPage = 5
	twitterRetweetPrefix  = "RT @"
)

var (
	linkRe    = regexp.MustCompile(`https?://\S+`)
	mentionRe = regexp.MustCompile(`@\w+`)
	spaceRe   = regexp.MustCompile(`[ \t]{2,}`)
)

// TwitterConfig configures a keyword search over recent tweets. The bearer
// token comes from the credentials file under auth.twitter.
type TwitterConfig struct {
	PollerConfig
	WordList       []string `yaml:"word_list"`
	BaseURL        string   `yaml:"base_url"`
	MaxPages       int      `yaml:"max_pages"`
	RemoveLinks    bool     `yaml:"remove_links"`
	RemoveMentions bool     `yaml:"remove_mentions"`
	FilterRetweets bool     `yaml:"filter_retweets"`
	Auth           struct {
		Twitter struct {
			BearerToken string `yaml:"bearer_token"`
		} `yaml:"twitter"`
	} `yaml:"auth"`
}

// DefaultTwitterConfig returns the defaults applied before decoding options.
func DefaultTwitterConfig() TwitterConfig {
	return TwitterConfig{
		PollerConfig:   DefaultPollerConfig(),
		RemoveLinks:    true,
		FilterRetweets: true,
	}
}

// TwitterCrawler pages through the recent search endpoint, newest first.
// Tweet ids are snowflakes and grow with time, so they serve as cursor ids.
type TwitterCrawler struct {
	name     string
	cfg      TwitterConfig
	query    string
	baseURL  string
	maxPages int
	fetcher  *Fetcher
}

// NewTwitterCrawler validates cfg and builds the crawler.
func NewTwitterCrawler(name string, cfg TwitterConfig) (*TwitterCrawler, error) {
	var words []string
	for _, w := range cfg.WordList {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, errors.New("twitter: word_list is required")
	}
	token := cfg.Auth.Twitter.BearerToken
	if token == "" {
		return nil, errors.New("twitter: no bearer_token under auth.twitter")
	}

	base := cfg.BaseURL
	if base == "" {
		base = twitterBaseURL
	}
	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = twitterDefaultMaxPage
	}

	headers := maps.Clone(cfg.Headers)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers["Authorization"] = "Bearer " + token
	cfg.Headers = headers

	return &TwitterCrawler{
		name:     name,
		cfg:      cfg,
		query:    twitterQuery(words, cfg.FilterRetweets),
		baseURL:  strings.TrimRight(base, "/"),
		maxPages: maxPages,
		fetcher:  NewFetcher(name, cfg.PollerConfig),
	}, nil
}

func twitterName(words []string) string {
	if len(words) == 0 {
		return twitterClass
	}
	return twitterClass + "." + strings.TrimSpace(words[0])
}

func twitterQuery(words []string, filterRetweets bool) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if strings.ContainsAny(w, " \t") {
			w = strconv.Quote(w)
		}
		quoted[i] = w
	}
	q := strings.Join(quoted, " OR ")
	if len(quoted) > 1 {
		q = "(" + q + ")"
	}
	if filterRetweets {
		q += " -is:retweet"
	}
	return q
}

func (tc *TwitterCrawler) Crawl(ctx context.Context, visit func(Record) bool) error {
	next := ""
	for page := 0; page < tc.maxPages; page++ {
		q := url.Values{}
		q.Set("query", tc.query)
		q.Set("max_results", strconv.Itoa(twitterPageSize))
		q.Set("tweet.fields", "author_id,created_at,public_metrics,referenced_tweets")
		q.Set("expansions", "author_id,referenced_tweets.id,referenced_tweets.id.author_id")
		q.Set("user.fields", "username")
		if next != "" {
			q.Set("next_token", next)
		}

		var resp twitterSearch
		if err := tc.fetcher.GetJSON(ctx, tc.baseURL+twitterSearchPath+"?"+q.Encode(), &resp); err != nil {
			return err
		}
		if len(resp.Errors) > 0 && len(resp.Data) == 0 {
			return &StructuralError{Source: tc.name, Msg: fmt.Sprintf("search failed: %s", resp.Errors[0].Message)}
		}

		users := make(map[string]twitterUser, len(resp.Includes.Users))
		for _, u := range resp.Includes.Users {
			users[u.ID] = u
		}
		refs := make(map[string]twitterTweet, len(resp.Includes.Tweets))
		for _, t := range resp.Includes.Tweets {
			refs[t.ID] = t
		}

		for _, t := range resp.Data {
			rec, keep, err := tc.record(t, users, refs)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}
			if !visit(rec) {
				return nil
			}
		}

		next = resp.Meta.NextToken
		if next == "" || len(resp.Data) == 0 {
			return nil
		}
	}
	return nil
}

func (tc *TwitterCrawler) record(t twitterTweet, users map[string]twitterUser, refs map[string]twitterTweet) (Record, bool, error) {
	id, err := strconv.ParseInt(t.ID, 10, 64)
	if err != nil {
		return Record{}, false, &StructuralError{Source: tc.name, Msg: fmt.Sprintf("tweet id %q is not numeric", t.ID), Err: err}
	}
	retweeted, isRetweet := t.retweetOf()
	if tc.cfg.FilterRetweets && (isRetweet || strings.HasPrefix(t.Text, twitterRetweetPrefix)) {
		return Record{}, false, nil
	}

	payload, postedAt := tc.payload(t, users)
	payload["body"] = tc.clean(t.Text)
	if isRetweet {
		if orig, ok := refs[retweeted]; ok {
			rt, _ := tc.payload(orig, users)
			rt["body"] = tc.clean(orig.Text)
			payload["retweet"] = rt
		}
	}
	return Record{ID: id, PostedAt: postedAt, Payload: payload}, true, nil
}

func (tc *TwitterCrawler) payload(t twitterTweet, users map[string]twitterUser) (map[string]any, time.Time) {
	user := users[t.AuthorID]
	p := map[string]any{
		"url":          fmt.Sprintf("%s/%s/status/%s", twitterWebURL, user.Username, t.ID),
		"user_id":      t.AuthorID,
		"nickname":     user.Username,
		"quote_cnt":    t.Metrics.QuoteCount,
		"reply_cnt":    t.Metrics.ReplyCount,
		"retweet_cnt":  t.Metrics.RetweetCount,
		"favorite_cnt": t.Metrics.LikeCount,
	}
	if !t.CreatedAt.IsZero() {
		p["written_at"] = t.CreatedAt.Format(time.RFC3339)
	}
	return p, t.CreatedAt
}

func (tc *TwitterCrawler) clean(text string) string {
	if tc.cfg.RemoveLinks {
		text = linkRe.ReplaceAllString(text, "")
	}
	if tc.cfg.RemoveMentions {
		text = mentionRe.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

func (tc *TwitterCrawler) Close() error {
	return tc.fetcher.Close()
}

type twitterSearch struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users  []twitterUser  `json:"users"`
		Tweets []twitterTweet `json:"tweets"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type twitterTweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   struct {
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
		LikeCount    int `json:"like_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
	Referenced []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

func (t twitterTweet) retweetOf() (string, bool) {
	for _, r := range t.Referenced {
		if r.Type == "retweeted" {
			return r.ID, true
		}
	}
	return "", false
}

type twitterUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
