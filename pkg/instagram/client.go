package instagram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"igcomments/pkg/config"
	errs "igcomments/pkg/errors"
	"igcomments/pkg/logger"
	"igcomments/pkg/models"
	"igcomments/pkg/storage"
)

// maxBodySize bounds how much of a response is read
const maxBodySize = 16 << 20

// PageRequest identifies one page in a pagination context
type PageRequest struct {
	Target models.Target
	// ParentID is set for reply contexts
	ParentID string
	Cursor   string
	PageSize int
}

// IsReply reports whether the request targets a reply thread
func (r PageRequest) IsReply() bool {
	return r.ParentID != ""
}

// ResponseArchiver receives every raw response for offline debugging
type ResponseArchiver interface {
	Archive(entry storage.RawResponse) error
}

// Client issues single page requests against the configured endpoints.
// It never retries; callers own the retry policy.
type Client struct {
	httpClient *http.Client
	cookies    map[string]string
	headers    map[string]string

	postByShortcode *Endpoint
	comments        *Endpoint
	replies         *Endpoint
	repliesErr      error

	archive ResponseArchiver
	logger  logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithArchive sets the raw response archive
func WithArchive(a ResponseArchiver) Option {
	return func(c *Client) { c.archive = a }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client from configuration. A malformed comments
// endpoint is a configuration error; the reply endpoint is checked lazily
// because replies may be disabled.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	comments, err := NewEndpoint("comments", cfg.Endpoints.Comments)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cookies:  copyMap(cfg.Instagram.Auth.Cookies),
		headers:  defaultHeaders(),
		comments: comments,
		logger:   logger.GetLogger(),
	}
	for k, v := range cfg.Instagram.Auth.Headers {
		if v != "" && !strings.HasPrefix(v, "YOUR_") {
			c.headers[k] = v
		}
	}

	c.replies, c.repliesErr = NewEndpoint("comment_replies", cfg.Endpoints.CommentReplies)

	if cfg.Endpoints.PostByShortcode.IsConfigured() {
		if ep, err := NewEndpoint("post_by_shortcode", cfg.Endpoints.PostByShortcode); err == nil {
			c.postByShortcode = ep
		}
	}

	transport, err := newTransport(cfg.Instagram.Proxy)
	if err != nil {
		return nil, err
	}
	c.httpClient = &http.Client{Timeout: cfg.Instagram.Timeout, Transport: transport}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultHeaders() map[string]string {
	return map[string]string{
		"Accept":           "*/*",
		"Accept-Language":  "en-US,en;q=0.9",
		"Origin":           BaseURL,
		"X-Requested-With": "XMLHttpRequest",
	}
}

func newTransport(proxy config.ProxyConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy.HTTP == "" && proxy.HTTPS == "" {
		return transport, nil
	}

	parse := func(raw string) (*url.URL, error) {
		if raw == "" {
			return nil, nil
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, errs.NewConfigurationError("invalid proxy url %q", raw)
		}
		return u, nil
	}
	httpProxy, err := parse(proxy.HTTP)
	if err != nil {
		return nil, err
	}
	httpsProxy, err := parse(proxy.HTTPS)
	if err != nil {
		return nil, err
	}

	transport.Proxy = func(r *http.Request) (*url.URL, error) {
		if r.URL.Scheme == "https" && httpsProxy != nil {
			return httpsProxy, nil
		}
		return httpProxy, nil
	}
	return transport, nil
}

// CheckEndpoints validates the templates the crawl will use
func (c *Client) CheckEndpoints(replies bool) error {
	if err := c.comments.Check(false); err != nil {
		return err
	}
	if !replies {
		return nil
	}
	if c.repliesErr != nil {
		return c.repliesErr
	}
	return c.replies.Check(true)
}

// FetchPage issues exactly one request and parses the resulting page
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	ep := c.comments
	label := "comments"
	if req.IsReply() {
		if c.repliesErr != nil {
			return nil, c.repliesErr
		}
		ep = c.replies
		label = "replies_" + req.ParentID
	}

	b := Bindings{
		TargetID:        req.Target.ID,
		DisplayID:       req.Target.DisplayID,
		Cursor:          req.Cursor,
		ParentCommentID: req.ParentID,
		First:           req.PageSize,
	}

	var page *Page
	err := c.call(ctx, ep, b, label, func(payload map[string]interface{}) error {
		var perr error
		page, perr = ParsePage(payload, req.IsReply(), req.Target.OwnerID)
		return perr
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("page fetched", map[string]interface{}{
		"context":  label,
		"items":    len(page.Items),
		"has_more": page.HasMore,
	})
	return page, nil
}

// ResolveTarget turns a post URL or shortcode into a Target. Without a
// usable post_by_shortcode endpoint the media id is decoded from the shortcode.
// A retryable lookup failure is returned together with the decoded target,
// which callers may fall back to once their retries are spent.
func (c *Client) ResolveTarget(ctx context.Context, ref string) (models.Target, error) {
	shortcode, ok := ExtractShortcode(ref)
	if !ok {
		return models.Target{}, errs.NewConfigurationError("cannot extract a shortcode from %q", ref)
	}
	decoded, _ := ShortcodeToMediaID(shortcode)
	target := models.Target{ID: decoded, DisplayID: shortcode}

	if c.postByShortcode == nil {
		if decoded == "" {
			return models.Target{}, errs.NewConfigurationError("shortcode %q cannot be decoded and post_by_shortcode is not configured", shortcode)
		}
		c.logger.InfoWithFields("post_by_shortcode not configured, using decoded media id", map[string]interface{}{
			"shortcode": shortcode,
			"media_id":  decoded,
		})
		return target, nil
	}

	b := Bindings{TargetID: decoded, DisplayID: shortcode}
	err := c.call(ctx, c.postByShortcode, b, "post_"+shortcode, func(payload map[string]interface{}) error {
		media := pickFirst(payload,
			[]string{"data", "xdt_shortcode_media"},
			[]string{"data", "shortcode_media"},
			[]string{"data", "media"},
		)
		if id := asString(pickFirst(media, []string{"id"}, []string{"pk"})); id != "" {
			target.ID = id
		}
		target.OwnerID = asString(pickFirst(media, []string{"owner", "id"}, []string{"owner", "pk"}))
		target.Caption = asString(deepGet(media, "edge_media_to_caption", "edges", "0", "node", "text"))
		target.TakenAt = ParseTimestamp(deepGet(media, "taken_at_timestamp"))
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrConfiguration) || errors.Is(err, context.Canceled) || decoded == "" {
			return models.Target{}, err
		}
		fallback := models.Target{ID: decoded, DisplayID: shortcode}
		if errs.IsRetryableError(err) {
			return fallback, err
		}
		c.logger.WithError(err).WarnWithFields("post lookup failed, using decoded media id", map[string]interface{}{
			"shortcode": shortcode,
		})
		return fallback, nil
	}
	return target, nil
}

// call performs one request, classifies the outcome and archives the raw exchange
func (c *Client) call(ctx context.Context, ep *Endpoint, b Bindings, label string, handle func(map[string]interface{}) error) error {
	req, vars, err := ep.BuildRequest(ctx, b)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for name, value := range c.cookies {
		if value != "" {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		terr := errs.NewTransportError(0, "request failed", err)
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"context":  label,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		c.archiveResponse(label, req, vars, 0, nil, terr)
		return terr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	logger.LogRequest(c.logger, req.Method, ep.URL, resp.StatusCode, time.Since(start))
	if err != nil {
		terr := errs.NewTransportError(resp.StatusCode, "failed to read response body", err)
		c.archiveResponse(label, req, vars, resp.StatusCode, body, terr)
		return terr
	}

	failure := c.checkResponseStatus(resp.StatusCode, body)
	if failure == nil {
		var payload map[string]interface{}
		payload, failure = decodePayload(body)
		if failure == nil {
			failure = checkPayload(payload)
		}
		if failure == nil {
			failure = handle(payload)
		}
		if failure != nil && errors.Is(failure, errs.ErrSchema) {
			c.logger.ErrorWithFields("failed to interpret response", map[string]interface{}{
				"context":      label,
				"status":       resp.StatusCode,
				"error":        failure.Error(),
				"body_preview": preview(body),
			})
		}
	}

	c.archiveResponse(label, req, vars, resp.StatusCode, body, failure)
	return failure
}

// checkResponseStatus maps HTTP status codes onto the error taxonomy
func (c *Client) checkResponseStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errs.NewRateLimitedError(status, "rate limit exceeded")
	case status == http.StatusUnauthorized:
		return &errs.Error{Type: errs.ErrorTypeAuth, Code: status, Message: "authentication required"}
	case status == http.StatusForbidden:
		text := string(body)
		if strings.Contains(text, "login_required") || strings.Contains(text, "checkpoint_required") {
			return &errs.Error{Type: errs.ErrorTypeAuth, Code: status, Message: "session rejected"}
		}
		return errs.NewRateLimitedError(status, "request throttled")
	case status == http.StatusNotFound:
		return &errs.Error{Type: errs.ErrorTypeNotFound, Code: status, Message: "resource not found"}
	case status >= 500:
		return errs.NewTransportError(status, "server error", nil)
	default:
		return &errs.Error{Type: errs.ErrorTypeUnknown, Code: status, Message: fmt.Sprintf("unexpected status code: %d", status)}
	}
}

// checkPayload catches failures reported inside a 200 response
func checkPayload(payload map[string]interface{}) error {
	if asBool(payload["require_login"]) || asBool(payload["requires_to_login"]) {
		return &errs.Error{Type: errs.ErrorTypeAuth, Message: "login required"}
	}
	if asString(payload["status"]) != "fail" {
		return nil
	}
	msg := asString(payload["message"])
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "wait") || strings.Contains(lower, "rate") || strings.Contains(lower, "spam"):
		return errs.NewRateLimitedError(0, msg)
	case strings.Contains(lower, "login"):
		return &errs.Error{Type: errs.ErrorTypeAuth, Message: msg}
	default:
		return errs.NewSchemaError("request failed: "+msg, nil)
	}
}

func (c *Client) archiveResponse(label string, req *http.Request, vars map[string]interface{}, status int, body []byte, failure error) {
	if c.archive == nil {
		return
	}
	entry := storage.RawResponse{
		Label:     label,
		Method:    req.Method,
		URL:       req.URL.String(),
		Variables: vars,
		Status:    status,
		Body:      body,
		Failed:    failure != nil,
	}
	if failure != nil {
		entry.Error = failure.Error()
	}
	if err := c.archive.Archive(entry); err != nil {
		c.logger.WithError(err).Warn("failed to archive raw response")
	}
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
