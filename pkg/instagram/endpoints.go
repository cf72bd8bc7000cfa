package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"igcomments/pkg/config"
	errs "igcomments/pkg/errors"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	KindGraphQL = "graphql"
	KindREST    = "rest"
)

// Endpoint is a validated endpoint descriptor
type Endpoint struct {
	Name           string
	Kind           string
	Method         string
	URL            string
	DocID          string
	QueryHash      string
	Params         map[string]string
	Variables      map[string]interface{}
	VariablesField string
}

// NewEndpoint validates cfg and returns an Endpoint
func NewEndpoint(name string, cfg config.EndpointConfig) (*Endpoint, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = KindGraphQL
	}
	if kind != KindGraphQL && kind != KindREST {
		return nil, errs.NewConfigurationError("endpoint %s: unknown kind %q", name, cfg.Kind)
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.HTTPMethod))
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, errs.NewConfigurationError("endpoint %s: unsupported http_method %q", name, cfg.HTTPMethod)
	}

	if cfg.URL == "" {
		return nil, errs.NewConfigurationError("endpoint %s: url is required", name)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.NewConfigurationError("endpoint %s: malformed url %q", name, cfg.URL)
	}

	if kind == KindGraphQL && cfg.DocID == "" && cfg.QueryHash == "" && cfg.VariablesField == "" {
		return nil, errs.NewConfigurationError("endpoint %s: graphql endpoints need doc_id or query_hash", name)
	}
	for _, v := range []string{cfg.DocID, cfg.QueryHash} {
		if strings.HasPrefix(v, "YOUR_") {
			return nil, errs.NewConfigurationError("endpoint %s: %q is a placeholder, capture a real value first", name, v)
		}
	}

	field := cfg.VariablesField
	if field == "" {
		field = "variables"
	}

	return &Endpoint{
		Name:           name,
		Kind:           kind,
		Method:         method,
		URL:            cfg.URL,
		DocID:          cfg.DocID,
		QueryHash:      cfg.QueryHash,
		Params:         cfg.Params,
		Variables:      cfg.Variables,
		VariablesField: field,
	}, nil
}

// Bindings are the placeholder values available in one pagination context
type Bindings struct {
	TargetID        string
	DisplayID       string
	Cursor          string
	ParentCommentID string
	// First overrides a "first" key present in the template
	First int
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// omitted marks a template value whose optional placeholder is unbound
type omitted struct{}

func (b Bindings) lookup(name string) (string, bool, error) {
	var value string
	required := true
	switch name {
	case "target_id", "media_id":
		value = b.TargetID
	case "shortcode", "display_id":
		value = b.DisplayID
	case "cursor", "after":
		value = b.Cursor
		required = false
	case "parent_comment_id", "comment_id":
		value = b.ParentCommentID
	default:
		return "", false, errs.NewConfigurationError("unknown placeholder {%s}", name)
	}
	if value == "" && required {
		return "", false, errs.NewConfigurationError("placeholder {%s} has no value in this context", name)
	}
	return value, value != "", nil
}

// RenderTemplate substitutes placeholders in a variables template.
// An unbound cursor drops its key (first page); any other unbound or
// unknown placeholder is a configuration error.
func RenderTemplate(tmpl map[string]interface{}, b Bindings) (map[string]interface{}, error) {
	rendered, err := renderValue(tmpl, b)
	if err != nil {
		return nil, err
	}
	out, _ := rendered.(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	if _, ok := out["first"]; ok && b.First > 0 {
		out["first"] = b.First
	}
	return out, nil
}

func renderValue(v interface{}, b Bindings) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return renderString(val, b)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			r, err := renderValue(item, b)
			if err != nil {
				return nil, err
			}
			if _, skip := r.(omitted); !skip {
				out[k] = r
			}
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			r, err := renderValue(item, b)
			if err != nil {
				return nil, err
			}
			if _, skip := r.(omitted); !skip {
				out = append(out, r)
			}
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderString(s string, b Bindings) (interface{}, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var sb strings.Builder
	last := 0
	unbound := false
	for _, m := range matches {
		value, bound, err := b.lookup(s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		unbound = unbound || !bound
		sb.WriteString(s[last:m[0]])
		sb.WriteString(value)
		last = m[1]
	}
	if unbound {
		return omitted{}, nil
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// Check renders the template with stand-in values so a broken descriptor
// fails before any request is made.
func (e *Endpoint) Check(replyContext bool) error {
	b := Bindings{TargetID: "0", DisplayID: "check", Cursor: "cursor"}
	if replyContext {
		b.ParentCommentID = "0"
	}
	if _, err := RenderTemplate(e.Variables, b); err != nil {
		return fmt.Errorf("endpoint %s: %w", e.Name, err)
	}
	return nil
}

// Form builds the request parameters for rendered variables
func (e *Endpoint) Form(vars map[string]interface{}) (url.Values, error) {
	form := url.Values{}

	if e.Kind == KindGraphQL {
		if e.DocID != "" {
			form.Set("doc_id", e.DocID)
		}
		if e.QueryHash != "" {
			form.Set("query_hash", e.QueryHash)
		}
		for k, v := range e.Params {
			form.Set(k, v)
		}
		if len(vars) > 0 {
			encoded, err := json.Marshal(vars)
			if err != nil {
				return nil, errs.NewConfigurationError("endpoint %s: cannot encode variables: %v", e.Name, err)
			}
			form.Set(e.VariablesField, string(encoded))
		}
		return form, nil
	}

	for k, v := range e.Params {
		form.Set(k, v)
	}
	for k, v := range vars {
		switch val := v.(type) {
		case string:
			form.Set(k, val)
		case map[string]interface{}, []interface{}:
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, errs.NewConfigurationError("endpoint %s: cannot encode %s: %v", e.Name, k, err)
			}
			form.Set(k, string(encoded))
		default:
			form.Set(k, fmt.Sprint(val))
		}
	}
	return form, nil
}

// BuildRequest renders the endpoint into an HTTP request. GET requests
// carry the form in the query string, POST requests in the body.
func (e *Endpoint) BuildRequest(ctx context.Context, b Bindings) (*http.Request, map[string]interface{}, error) {
	vars, err := RenderTemplate(e.Variables, b)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint %s: %w", e.Name, err)
	}
	form, err := e.Form(vars)
	if err != nil {
		return nil, nil, err
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, nil, errs.NewConfigurationError("endpoint %s: malformed url %q", e.Name, e.URL)
	}

	var req *http.Request
	if e.Method == http.MethodGet {
		q := u.Query()
		for k, vs := range form {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, nil, errs.NewConfigurationError("endpoint %s: %v", e.Name, err)
	}
	return req, vars, nil
}

var shortcodeRe = regexp.MustCompile(`instagram\.com/(?:p|reel|reels|tv)/([^/?#]+)/?`)

// ExtractShortcode returns the shortcode from a post URL, or the input
// itself when it already looks like a shortcode.
func ExtractShortcode(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if m := shortcodeRe.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	if ref != "" && !strings.ContainsAny(ref, "/?#:. ") {
		return ref, true
	}
	return "", false
}

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// ShortcodeToMediaID decodes a shortcode into the numeric media id
func ShortcodeToMediaID(shortcode string) (string, bool) {
	if shortcode == "" {
		return "", false
	}
	id := new(big.Int)
	base := big.NewInt(64)
	for _, ch := range shortcode {
		idx := strings.IndexRune(shortcodeAlphabet, ch)
		if idx < 0 {
			return "", false
		}
		id.Mul(id, base)
		id.Add(id, big.NewInt(int64(idx)))
	}
	return id.String(), true
}

// GetPostURL constructs the URL for a specific post
func GetPostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", BaseURL, shortcode)
}
