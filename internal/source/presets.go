package source

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/ppiankov/birdman/internal/config"
)

const (
	dcinsideClass   = "dcinside"
	todayhumorClass = "todayhumor"

	dcinsideHost    = "https://gall.dcinside.com"
	todayhumorHost  = "http://www.todayhumor.co.kr"
	koreaTimezone   = "Asia/Seoul"
	dcinsideMissing = "해당 갤러리는 존재하지 않습니다"
)

// dcinsidePreset returns the forum options for one DCInside gallery.
func dcinsidePreset(galleryID string, minor bool) (string, config.Options) {
	name := dcinsideClass + "." + galleryID
	board := "/board"
	if minor {
		name = dcinsideClass + ".minor." + galleryID
		board = "/mgallery/board"
	}
	return name, config.Options{
		"list_url":       fmt.Sprintf("%s%s/lists?id=%s&page={page}", dcinsideHost, board, url.QueryEscape(galleryID)),
		"base_url":       dcinsideHost,
		"post_row":       "div.gall_listwrap tr.us-post",
		"post_link":      "a",
		"strip_params":   []any{"page"},
		"missing_marker": dcinsideMissing,
		"container":      "div.view_content_wrap",
		"title":          "span.title_subject",
		"body":           "div.write_div",
		"author":         "div.gall_writer@data-nick",
		"date":           "span.gall_date",
		"date_layout":    "2006.01.02 15:04:05",
		"timezone":       koreaTimezone,
		"fields": map[string]any{
			"user_id":     "div.gall_writer@data-uid",
			"user_ip":     "div.gall_writer@data-ip",
			"view_cnt":    "span.gall_count",
			"view_up":     "p.up_num",
			"view_dn":     "p.down_num",
			"comment_cnt": "span.gall_comment",
		},
		"numeric": []any{"view_cnt", "view_up", "view_dn", "comment_cnt"},
		"tags":    map[string]any{"gallery_id": galleryID},
	}
}

// todayhumorPreset returns the forum options for one TodayHumor board.
func todayhumorPreset(boardID string) (string, config.Options) {
	info := "div.writerInfoContents"
	return todayhumorClass + "." + boardID, config.Options{
		"list_url":     fmt.Sprintf("%s/board/list.php?table=%s&page={page}", todayhumorHost, url.QueryEscape(boardID)),
		"base_url":     todayhumorHost,
		"post_row":     "table.table_list td.subject",
		"post_link":    "a",
		"strip_params": []any{"s_no", "page"},
		"container":    "div.containerInner",
		"title":        "div.viewSubjectDiv",
		"body":         "div.viewContent",
		"author":       info + " span#viewPageWriterNameSpan@name",
		"date":         info + ` > div:contains("등록시간")`,
		"date_pattern": `등록시간\s*:\s*(.+)`,
		"date_layout":  "2006/01/02 15:04:05",
		"timezone":     koreaTimezone,
		"fields": map[string]any{
			"user_id":     info + " span#viewPageWriterNameSpan@mn",
			"user_ip":     info + ` > div:contains("IP")`,
			"view_updn":   info + " span.view_ok_nok",
			"view_cnt":    info + ` > div:contains("조회수")`,
			"comment_cnt": info + ` > div:contains("댓글")`,
		},
		"patterns": map[string]any{"user_ip": `IP\s*:\s*(\S+)`},
		"numeric":  []any{"view_updn", "view_cnt", "comment_cnt"},
		"tags":     map[string]any{"board_id": boardID},
	}
}

// presetLayers puts a site preset under the user's options so any preset
// key can be overridden from the config file.
func presetLayers(preset, opts config.Options) config.Options {
	return config.Layers{Defaults: preset, Overrides: opts}.Flatten()
}

func dcinsideOptions(opts config.Options) (string, config.Options, error) {
	var sel struct {
		GalleryID    string `yaml:"gallery_id"`
		MinorGallery bool   `yaml:"minor_gallery"`
	}
	if err := opts.Decode(&sel); err != nil {
		return "", nil, err
	}
	if sel.GalleryID == "" {
		return "", nil, errors.New("dcinside: gallery_id is required")
	}
	name, preset := dcinsidePreset(sel.GalleryID, sel.MinorGallery)
	return name, presetLayers(preset, opts), nil
}

func todayhumorOptions(opts config.Options) (string, config.Options, error) {
	var sel struct {
		BoardID string `yaml:"board_id"`
	}
	if err := opts.Decode(&sel); err != nil {
		return "", nil, err
	}
	if sel.BoardID == "" {
		return "", nil, errors.New("todayhumor: board_id is required")
	}
	name, preset := todayhumorPreset(sel.BoardID)
	return name, presetLayers(preset, opts), nil
}
