package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	forumClass           = "forum"
	forumPagePlaceholder = "{page}"
	forumDefaultIDRegexp = `no=([0-9]+)`
	forumDefaultMaxPages = 20
	forumDefaultLink     = "a"
)

var numberRe = regexp.MustCompile(`-?[0-9][0-9,]*`)

// ForumConfig describes a paginated HTML board: a list page with links to
// posts newest first, and a post page holding the fields to extract.
//
// Element paths are goquery selectors, optionally suffixed with @attr to
// read an attribute instead of the text. A path of only @attr reads the
// attribute of the post container.
type ForumConfig struct {
	PollerConfig
	ListURL       string            `yaml:"list_url"`
	BaseURL       string            `yaml:"base_url"`
	PostRow       string            `yaml:"post_row"`
	PostLink      string            `yaml:"post_link"`
	IDPattern     string            `yaml:"id_pattern"`
	StripParams   []string          `yaml:"strip_params"`
	Container     string            `yaml:"container"`
	Title         string            `yaml:"title"`
	Body          string            `yaml:"body"`
	Author        string            `yaml:"author"`
	Date          string            `yaml:"date"`
	DatePattern   string            `yaml:"date_pattern"`
	DateLayout    string            `yaml:"date_layout"`
	Timezone      string            `yaml:"timezone"`
	Fields        map[string]string `yaml:"fields"`
	Patterns      map[string]string `yaml:"patterns"`
	Numeric       []string          `yaml:"numeric"`
	Tags          map[string]string `yaml:"tags"`
	MissingMarker string            `yaml:"missing_marker"`
	MaxPages      int               `yaml:"max_pages"`
}

// ForumCrawler scrapes a ForumConfig board.
type ForumCrawler struct {
	name     string
	cfg      ForumConfig
	base     *url.URL
	idRe     *regexp.Regexp
	dateRe   *regexp.Regexp
	patterns map[string]*regexp.Regexp
	numeric  map[string]bool
	loc      *time.Location
	fetcher  *Fetcher

	// enrich, when set, adds site data that is not on the post page.
	enrich func(context.Context, *Record) error
}

// NewForumCrawler validates cfg and compiles its patterns.
func NewForumCrawler(name string, cfg ForumConfig) (*ForumCrawler, error) {
	if !strings.Contains(cfg.ListURL, forumPagePlaceholder) {
		return nil, fmt.Errorf("forum: list_url must contain %s, got %q", forumPagePlaceholder, cfg.ListURL)
	}
	if cfg.PostRow == "" {
		return nil, errors.New("forum: post_row selector is required")
	}
	if cfg.Title == "" || cfg.Body == "" {
		return nil, errors.New("forum: title and body selectors are required")
	}
	if cfg.Date != "" && cfg.DateLayout == "" {
		return nil, errors.New("forum: date_layout is required with date")
	}
	if cfg.PostLink == "" {
		cfg.PostLink = forumDefaultLink
	}
	if cfg.IDPattern == "" {
		cfg.IDPattern = forumDefaultIDRegexp
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = forumDefaultMaxPages
	}

	baseRaw := cfg.BaseURL
	if baseRaw == "" {
		baseRaw = cfg.ListURL
	}
	base, err := url.Parse(strings.ReplaceAll(baseRaw, forumPagePlaceholder, "1"))
	if err != nil {
		return nil, fmt.Errorf("forum: base_url: %w", err)
	}

	idRe, err := regexp.Compile(cfg.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("forum: id_pattern: %w", err)
	}
	if idRe.NumSubexp() != 1 {
		return nil, fmt.Errorf("forum: id_pattern %q must have exactly one group", cfg.IDPattern)
	}

	var dateRe *regexp.Regexp
	if cfg.DatePattern != "" {
		if dateRe, err = regexp.Compile(cfg.DatePattern); err != nil {
			return nil, fmt.Errorf("forum: date_pattern: %w", err)
		}
	}

	patterns := make(map[string]*regexp.Regexp, len(cfg.Patterns))
	for field, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("forum: pattern for %s: %w", field, err)
		}
		patterns[field] = re
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("forum: timezone: %w", err)
		}
	}

	numeric := make(map[string]bool, len(cfg.Numeric))
	for _, f := range cfg.Numeric {
		numeric[f] = true
	}

	return &ForumCrawler{
		name:     name,
		cfg:      cfg,
		base:     base,
		idRe:     idRe,
		dateRe:   dateRe,
		patterns: patterns,
		numeric:  numeric,
		loc:      loc,
		fetcher:  NewFetcher(name, cfg.PollerConfig),
	}, nil
}

func forumName(listURL string) string {
	return forumClass + "." + feedDomain(listURL)
}

func (fc *ForumCrawler) Crawl(ctx context.Context, visit func(Record) bool) error {
	seen := make(map[int64]bool)
	for page := 1; page <= fc.cfg.MaxPages; page++ {
		links, err := fc.postList(ctx, page)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			if page == 1 {
				return &StructuralError{Source: fc.name, Msg: "post list webpage HTML structure may have changed"}
			}
			return nil
		}

		for _, link := range links {
			if seen[link.id] {
				continue
			}
			seen[link.id] = true

			rec, err := fc.post(ctx, link)
			if err != nil {
				return err
			}
			if !visit(rec) {
				return nil
			}
		}
	}
	return nil
}

type forumLink struct {
	id  int64
	url string
}

// postList returns the post links of one list page in page order.
func (fc *ForumCrawler) postList(ctx context.Context, page int) ([]forumLink, error) {
	listURL := strings.ReplaceAll(fc.cfg.ListURL, forumPagePlaceholder, strconv.Itoa(page))
	doc, err := fc.document(ctx, listURL)
	if err != nil {
		return nil, err
	}

	var links []forumLink
	var linkErr error
	doc.Find(fc.cfg.PostRow).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		href, ok := row.Find(fc.cfg.PostLink).First().Attr("href")
		if !ok {
			return true
		}
		link, err := fc.link(href)
		if err != nil {
			linkErr = err
			return false
		}
		links = append(links, link)
		return true
	})
	return links, linkErr
}

// link resolves href against the base URL, drops volatile query params
// and extracts the post id.
func (fc *ForumCrawler) link(href string) (forumLink, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return forumLink{}, &StructuralError{Source: fc.name, Msg: fmt.Sprintf("post link %q does not parse", href), Err: err}
	}
	u := fc.base.ResolveReference(ref)
	if len(fc.cfg.StripParams) > 0 {
		q := u.Query()
		for _, p := range fc.cfg.StripParams {
			q.Del(p)
		}
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""

	abs := u.String()
	m := fc.idRe.FindStringSubmatch(abs)
	if m == nil {
		return forumLink{}, &StructuralError{Source: fc.name, Msg: fmt.Sprintf("no post id in %q", abs)}
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return forumLink{}, &StructuralError{Source: fc.name, Msg: fmt.Sprintf("post id %q is not numeric", m[1]), Err: err}
	}
	return forumLink{id: id, url: abs}, nil
}

func (fc *ForumCrawler) post(ctx context.Context, link forumLink) (Record, error) {
	doc, err := fc.document(ctx, link.url)
	if err != nil {
		return Record{}, err
	}

	root := doc.Selection
	if fc.cfg.Container != "" {
		root = doc.Find(fc.cfg.Container).First()
		if root.Length() == 0 {
			return Record{}, fc.structureChanged("container", link.url)
		}
	}

	payload := map[string]any{
		"url":     link.url,
		"post_no": link.id,
	}
	for k, v := range fc.cfg.Tags {
		payload[k] = v
	}

	title, ok := extract(root, fc.cfg.Title, false)
	if !ok {
		return Record{}, fc.structureChanged("title", link.url)
	}
	payload["title"] = title

	body, ok := extract(root, fc.cfg.Body, true)
	if !ok {
		return Record{}, fc.structureChanged("body", link.url)
	}
	payload["body"] = body

	if fc.cfg.Author != "" {
		nick, ok := extract(root, fc.cfg.Author, false)
		if !ok {
			return Record{}, fc.structureChanged("author", link.url)
		}
		payload["nickname"] = nick
	}

	var postedAt time.Time
	if fc.cfg.Date != "" {
		postedAt, err = fc.date(root, link.url)
		if err != nil {
			return Record{}, err
		}
		payload["written_at"] = postedAt.Format(time.RFC3339)
	}

	for field, path := range fc.cfg.Fields {
		v, err := fc.field(root, field, path, link.url)
		if err != nil {
			return Record{}, err
		}
		payload[field] = v
	}

	rec := Record{ID: link.id, PostedAt: postedAt, Payload: payload}
	if fc.enrich != nil {
		if err := fc.enrich(ctx, &rec); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func (fc *ForumCrawler) date(root *goquery.Selection, postURL string) (time.Time, error) {
	raw, ok := extract(root, fc.cfg.Date, false)
	if !ok {
		return time.Time{}, fc.structureChanged("date", postURL)
	}
	if fc.dateRe != nil {
		m := fc.dateRe.FindStringSubmatch(raw)
		if len(m) < 2 {
			return time.Time{}, fc.structureChanged("date", postURL)
		}
		raw = strings.TrimSpace(m[1])
	}
	t, err := time.ParseInLocation(fc.cfg.DateLayout, raw, fc.loc)
	if err != nil {
		return time.Time{}, &StructuralError{Source: fc.name, Msg: fmt.Sprintf("date %q does not match %q", raw, fc.cfg.DateLayout), Err: err}
	}
	return t, nil
}

func (fc *ForumCrawler) field(root *goquery.Selection, field, path, postURL string) (any, error) {
	v, ok := extract(root, path, false)
	if !ok {
		return nil, fc.structureChanged(field, postURL)
	}
	if re, ok := fc.patterns[field]; ok {
		m := re.FindStringSubmatch(v)
		if len(m) < 2 {
			return nil, fc.structureChanged(field, postURL)
		}
		v = strings.TrimSpace(m[1])
	}
	if !fc.numeric[field] {
		return v, nil
	}
	digits := strings.ReplaceAll(numberRe.FindString(v), ",", "")
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, &StructuralError{Source: fc.name, Msg: fmt.Sprintf("%s %q is not a number", field, v), Err: err}
	}
	return n, nil
}

// document fetches rawURL, decodes it to UTF-8 and checks for the
// missing-board marker.
func (fc *ForumCrawler) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := fc.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return nil, &StructuralError{Source: fc.name, Msg: "unsupported page encoding", Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &StructuralError{Source: fc.name, Msg: "page is not HTML", Err: err}
	}
	if fc.cfg.MissingMarker != "" && strings.Contains(doc.Text(), fc.cfg.MissingMarker) {
		return nil, &StructuralError{Source: fc.name, Msg: "board does not exist"}
	}
	return doc, nil
}

func (fc *ForumCrawler) structureChanged(what, postURL string) error {
	return &StructuralError{
		Source: fc.name,
		Msg:    fmt.Sprintf("post webpage HTML structure may have changed: no %s in %s", what, postURL),
	}
}

func (fc *ForumCrawler) Close() error {
	return fc.fetcher.Close()
}

// extract evaluates a "selector@attr" path below root. Text is trimmed;
// lines keeps one line per text node, as post bodies need.
func extract(root *goquery.Selection, path string, lines bool) (string, bool) {
	sel, attr := path, ""
	if i := strings.LastIndex(path, "@"); i >= 0 {
		sel, attr = path[:i], path[i+1:]
	}

	target := root
	if sel != "" {
		target = root.Find(sel).First()
	}
	if target.Length() == 0 {
		return "", false
	}
	if attr != "" {
		v, ok := target.Attr(attr)
		return strings.TrimSpace(v), ok
	}
	if lines {
		return nodeLines(target.Nodes[0]), true
	}
	return strings.TrimSpace(target.Text()), true
}

// nodeLines joins the non-blank text nodes under n with newlines.
func nodeLines(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "\n")
}
