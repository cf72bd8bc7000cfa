package instagram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	errs "igcomments/pkg/errors"
	"igcomments/pkg/models"
)

// Item is one comment from a page, with any replies the API delivered inline
type Item struct {
	models.Comment
	InlineReplies []models.Comment
	InlineHasMore bool
	InlineCursor  string
}

// Page is one parsed page of a comment or reply connection
type Page struct {
	Items         []Item
	NextCursor    string
	HasMore       bool
	ExpectedCount *int
}

// connection is the relay-style structure shared by comments and replies
type connection struct {
	Edges   []interface{}
	HasMore bool
	Cursor  string
	Count   *int
}

var commentPaths = [][]string{
	{"data", "xdt_api__v1__media__media_id__comments__connection"},
	{"data", "xdt_shortcode_media", "edge_media_to_parent_comment"},
	{"data", "shortcode_media", "edge_media_to_parent_comment"},
	{"data", "xdt_shortcode_media", "edge_media_to_comment"},
	{"data", "shortcode_media", "edge_media_to_comment"},
}

var replyPaths = [][]string{
	{"data", "comment", "edge_threaded_comments"},
	{"data", "comment", "edge_media_to_parent_comment"},
	{"data", "comment", "edge_media_to_comment"},
}

// decodePayload parses a JSON body keeping numbers exact
func decodePayload(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, errs.NewSchemaError("response is not a JSON object", err)
	}
	return payload, nil
}

// deepGet walks a path of map keys and list indexes
func deepGet(v interface{}, path ...string) interface{} {
	cur := v
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return nil
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

func pickFirst(v interface{}, paths ...[]string) interface{} {
	for _, p := range paths {
		if found := deepGet(v, p...); found != nil {
			return found
		}
	}
	return nil
}

// findBySuffix returns the first object under data whose key ends with one of suffixes
func findBySuffix(payload map[string]interface{}, suffixes ...string) map[string]interface{} {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return nil
	}
	for _, suffix := range suffixes {
		for key, value := range data {
			if m, ok := value.(map[string]interface{}); ok && strings.HasSuffix(key, suffix) {
				return m
			}
		}
	}
	return nil
}

func toConnection(m map[string]interface{}) *connection {
	c := &connection{}
	c.Edges, _ = m["edges"].([]interface{})
	c.HasMore = asBool(deepGet(m, "page_info", "has_next_page"))
	c.Cursor = asString(deepGet(m, "page_info", "end_cursor"))
	if n, ok := asInt(m["count"]); ok {
		c.Count = &n
	}
	return c
}

func extractCommentConnection(payload map[string]interface{}) *connection {
	for _, p := range commentPaths {
		if m, ok := deepGet(payload, p...).(map[string]interface{}); ok {
			return toConnection(m)
		}
	}
	if m := findBySuffix(payload, "__comments__connection"); m != nil {
		return toConnection(m)
	}
	return nil
}

func extractReplyConnection(payload map[string]interface{}) *connection {
	for _, p := range replyPaths {
		if m, ok := deepGet(payload, p...).(map[string]interface{}); ok {
			return toConnection(m)
		}
	}
	if m := findBySuffix(payload, "__replies__connection", "__comments__replies__connection", "__child_comments__connection"); m != nil {
		return toConnection(m)
	}
	return extractCommentConnection(payload)
}

// ParsePage turns a decoded payload into a Page. Replies use the reply
// connection shapes, top-level comments the comment shapes.
func ParsePage(payload map[string]interface{}, replies bool, ownerID string) (*Page, error) {
	var conn *connection
	if replies {
		conn = extractReplyConnection(payload)
	} else {
		conn = extractCommentConnection(payload)
	}
	if conn == nil {
		return nil, errs.NewSchemaError(fmt.Sprintf("no comment connection in response (keys: %s)", dataKeys(payload)), nil)
	}

	page := &Page{
		NextCursor:    conn.Cursor,
		HasMore:       conn.HasMore,
		ExpectedCount: conn.Count,
	}
	for i, edge := range conn.Edges {
		node, ok := deepGet(edge, "node").(map[string]interface{})
		if !ok {
			node, ok = edge.(map[string]interface{})
		}
		if !ok {
			return nil, errs.NewSchemaError(fmt.Sprintf("edge %d is not an object", i), nil)
		}
		item, err := parseItem(node, ownerID)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func parseItem(node map[string]interface{}, ownerID string) (Item, error) {
	c, err := ParseCommentNode(node, ownerID)
	if err != nil {
		return Item{}, err
	}
	item := Item{Comment: c}

	threaded, ok := node["edge_threaded_comments"].(map[string]interface{})
	if !ok {
		return item, nil
	}
	inline := toConnection(threaded)
	item.InlineHasMore = inline.HasMore
	item.InlineCursor = inline.Cursor
	for _, edge := range inline.Edges {
		rnode, ok := deepGet(edge, "node").(map[string]interface{})
		if !ok {
			continue
		}
		reply, err := ParseCommentNode(rnode, ownerID)
		if err != nil {
			return Item{}, err
		}
		reply.ParentID = c.ID
		item.InlineReplies = append(item.InlineReplies, reply)
	}
	return item, nil
}

// ParseCommentNode maps the several node shapes the API uses onto a Comment
func ParseCommentNode(node map[string]interface{}, ownerID string) (models.Comment, error) {
	id := asString(pickFirst(node, []string{"id"}, []string{"pk"}))
	if id == "" {
		return models.Comment{}, errs.NewSchemaError("comment node without id", nil)
	}

	c := models.Comment{
		ID:        id,
		Text:      asString(pickFirst(node, []string{"text"}, []string{"comment_text"})),
		CreatedAt: ParseTimestamp(pickFirst(node, []string{"created_at"}, []string{"created_at_utc"}, []string{"created_at_time"})),
		Author:    parseUser(node),
		GIFURL:    extractGIFURL(node),
	}
	if n, ok := asInt(pickFirst(node, []string{"like_count"}, []string{"comment_like_count"}, []string{"edge_liked_by", "count"})); ok {
		c.LikeCount = n
	}
	if n, ok := asInt(pickFirst(node, []string{"edge_threaded_comments", "count"}, []string{"child_comment_count"})); ok {
		c.ReplyCount = n
	}
	c.IsAuthor = ownerID != "" && c.Author.ID == ownerID
	return c, nil
}

func parseUser(node map[string]interface{}) models.Author {
	user, ok := node["owner"].(map[string]interface{})
	if !ok {
		user, _ = node["user"].(map[string]interface{})
	}
	if user == nil {
		return models.Author{}
	}
	return models.Author{
		ID:          asString(pickFirst(user, []string{"id"}, []string{"pk"})),
		DisplayName: asString(user["username"]),
		FullName:    asString(user["full_name"]),
		Verified:    asBool(user["is_verified"]),
	}
}

func extractGIFURL(node map[string]interface{}) string {
	info, ok := node["giphy_media_info"].(map[string]interface{})
	if !ok {
		return ""
	}
	if u := asString(info["url"]); u != "" {
		return u
	}
	for _, key := range []string{"first_party_cdn_proxied_images", "images"} {
		images, ok := info[key].(map[string]interface{})
		if !ok {
			continue
		}
		for _, size := range []string{"original", "fixed_width", "fixed_height", "downsized", "preview_gif"} {
			if u := asString(pickFirst(images, []string{size, "url"}, []string{size, "mp4"})); u != "" {
				return u
			}
		}
	}
	return ""
}

// ParseTimestamp renders unix seconds as RFC3339 UTC and passes strings through
func ParseTimestamp(v interface{}) string {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return models.FormatTime(time.Unix(int64(f), 0))
		}
		return t.String()
	case float64:
		return models.FormatTime(time.Unix(int64(t), 0))
	case int:
		return models.FormatTime(time.Unix(int64(t), 0))
	case string:
		return t
	default:
		return ""
	}
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(n), true
	case float64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func dataKeys(payload map[string]interface{}) string {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return "no data object"
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	return strings.Join(keys, ",")
}
