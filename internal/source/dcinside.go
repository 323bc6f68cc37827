package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	dcinsideCommentAPI    = "http://app.dcinside.com/api/comment_new.php"
	dcinsideCommentLayout = "2006.01.02 15:04"
)

var commentBreakRe = regexp.MustCompile(`(?i)(<br\s*/?>)+`)

// dcinsideComments attaches the comment thread of a post, fetched from the
// DCInside app API, to its payload under "comments".
type dcinsideComments struct {
	source    string
	galleryID string
	apiURL    string
	enabled   bool
	loc       *time.Location
	fetcher   *Fetcher
}

type dcinsideCommentPage struct {
	CommentList []dcinsideComment `json:"comment_list"`
}

type dcinsideComment struct {
	UserID    string          `json:"user_id"`
	IP        string          `json:"ipData"`
	Name      string          `json:"name"`
	DateTime  string          `json:"date_time"`
	Memo      string          `json:"comment_memo"`
	UnderStep json.RawMessage `json:"under_step"`
}

func (d *dcinsideComments) attach(ctx context.Context, rec *Record) error {
	comments := []any{}
	n, _ := rec.Payload["comment_cnt"].(int64)
	if !d.enabled || n <= 0 {
		rec.Payload["comments"] = comments
		return nil
	}

	q := url.Values{"id": {d.galleryID}, "no": {fmt.Sprint(rec.ID)}}
	var pages []dcinsideCommentPage
	if err := d.fetcher.GetJSON(ctx, d.apiURL+"?"+q.Encode(), &pages); err != nil {
		return err
	}
	if len(pages) == 0 {
		rec.Payload["comments"] = comments
		return nil
	}

	for _, c := range pages[0].CommentList {
		entry, err := d.comment(c)
		if err != nil {
			return err
		}
		// Replies follow the comment they answer.
		if c.UnderStep != nil && len(comments) > 0 {
			parent := comments[len(comments)-1].(map[string]any)
			parent["subcomments"] = append(parent["subcomments"].([]any), entry)
			continue
		}
		entry["subcomments"] = []any{}
		comments = append(comments, entry)
	}
	rec.Payload["comments"] = comments
	return nil
}

func (d *dcinsideComments) comment(c dcinsideComment) (map[string]any, error) {
	t, err := time.ParseInLocation(dcinsideCommentLayout, strings.TrimSpace(c.DateTime), d.loc)
	if err != nil {
		return nil, &StructuralError{Source: d.source, Msg: fmt.Sprintf("comment date %q does not match %q", c.DateTime, dcinsideCommentLayout), Err: err}
	}
	return map[string]any{
		"user_id":    c.UserID,
		"user_ip":    c.IP,
		"nickname":   c.Name,
		"written_at": t.Format(time.RFC3339),
		"body":       commentBreakRe.ReplaceAllString(c.Memo, "\n"),
	}, nil
}
