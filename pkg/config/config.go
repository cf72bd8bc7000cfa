package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the comment crawler
type Config struct {
	// Instagram authentication context and transport settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Endpoint descriptors for target resolution, comments and replies
	Endpoints EndpointsConfig `yaml:"endpoints" json:"endpoints"`

	// Crawl behaviour
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry configuration
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Raw response archive
	RawResponses RawResponsesConfig `yaml:"raw_responses" json:"raw_responses"`

	// Checkpoint storage
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Metrics endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	// Account selects a stored auth context from the credential store
	Account string        `yaml:"account" json:"account"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
	Proxy   ProxyConfig   `yaml:"proxy" json:"proxy"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// AuthConfig is the opaque authentication context captured outside the crawler
type AuthConfig struct {
	Cookies map[string]string `yaml:"cookies" json:"cookies"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// ProxyConfig holds optional proxy URLs
type ProxyConfig struct {
	HTTP  string `yaml:"http" json:"http"`
	HTTPS string `yaml:"https" json:"https"`
}

// EndpointsConfig holds the three endpoint descriptors the crawler uses
type EndpointsConfig struct {
	PostByShortcode EndpointConfig `yaml:"post_by_shortcode" json:"post_by_shortcode"`
	Comments        EndpointConfig `yaml:"comments" json:"comments"`
	CommentReplies  EndpointConfig `yaml:"comment_replies" json:"comment_replies"`
}

// EndpointConfig describes one paginated remote call
type EndpointConfig struct {
	Kind           string                 `yaml:"kind" json:"kind"`
	HTTPMethod     string                 `yaml:"http_method" json:"http_method"`
	URL            string                 `yaml:"url" json:"url"`
	DocID          string                 `yaml:"doc_id,omitempty" json:"doc_id,omitempty"`
	QueryHash      string                 `yaml:"query_hash,omitempty" json:"query_hash,omitempty"`
	Params         map[string]string      `yaml:"params,omitempty" json:"params,omitempty"`
	Variables      map[string]interface{} `yaml:"variables" json:"variables"`
	VariablesField string                 `yaml:"variables_field,omitempty" json:"variables_field,omitempty"`
}

// IsConfigured reports whether the descriptor has been filled in
func (e EndpointConfig) IsConfigured() bool {
	return e.URL != "" && !isPlaceholder(e.URL) && !isPlaceholder(e.DocID) && !isPlaceholder(e.QueryHash)
}

// CrawlConfig holds crawl-level settings
type CrawlConfig struct {
	MaxComments     int  `yaml:"max_comments" json:"max_comments"`
	FetchReplies    bool `yaml:"fetch_replies" json:"fetch_replies"`
	ResumeByDefault bool `yaml:"resume_by_default" json:"resume_by_default"`
	CommentsFirst   int  `yaml:"comments_first" json:"comments_first"`
	RepliesFirst    int  `yaml:"replies_first" json:"replies_first"`
}

// RateLimitConfig holds rate governor configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	JitterRatio       float64       `yaml:"jitter_ratio" json:"jitter_ratio"`
	PenaltyBase       time.Duration `yaml:"penalty_base" json:"penalty_base"`
	PenaltyMax        time.Duration `yaml:"penalty_max" json:"penalty_max"`
}

// RetryConfig holds per-page retry configuration
type RetryConfig struct {
	Attempts   int           `yaml:"attempts" json:"attempts"`
	Delay      time.Duration `yaml:"delay" json:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	// DataDirectory is the root for records, raw responses and checkpoints.
	// Empty means the platform data directory.
	DataDirectory string `yaml:"data_directory" json:"data_directory"`
}

// RawResponsesConfig controls the raw response archive
type RawResponsesConfig struct {
	Mode  string `yaml:"mode" json:"mode"`
	Keep  int    `yaml:"keep" json:"keep"`
	MaxMB int    `yaml:"max_mb" json:"max_mb"`
}

// CheckpointConfig selects the resume state backend
type CheckpointConfig struct {
	Backend string `yaml:"backend" json:"backend"`
}

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

const defaultGraphQLURL = "https://www.instagram.com/api/graphql"

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			Auth: AuthConfig{
				Cookies: map[string]string{},
				Headers: map[string]string{
					"Referer":    "https://www.instagram.com/",
					"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				},
			},
			Timeout: 30 * time.Second,
		},
		Endpoints: EndpointsConfig{
			PostByShortcode: EndpointConfig{
				Kind:       "graphql",
				HTTPMethod: "POST",
				URL:        defaultGraphQLURL,
				Variables:  map[string]interface{}{"shortcode": "{shortcode}"},
			},
			Comments: EndpointConfig{
				Kind:       "graphql",
				HTTPMethod: "POST",
				URL:        defaultGraphQLURL,
				Variables: map[string]interface{}{
					"shortcode": "{shortcode}",
					"first":     50,
					"after":     "{cursor}",
				},
			},
			CommentReplies: EndpointConfig{
				Kind:       "graphql",
				HTTPMethod: "POST",
				URL:        defaultGraphQLURL,
				Variables: map[string]interface{}{
					"comment_id": "{parent_comment_id}",
					"first":      50,
					"after":      "{cursor}",
				},
			},
		},
		Crawl: CrawlConfig{
			MaxComments:     400,
			FetchReplies:    true,
			ResumeByDefault: true,
			CommentsFirst:   20,
			RepliesFirst:    20,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 8,
			JitterRatio:       0.2,
			PenaltyBase:       30 * time.Second,
			PenaltyMax:        5 * time.Minute,
		},
		Retry: RetryConfig{
			Attempts:   3,
			Delay:      5 * time.Second,
			MaxDelay:   time.Minute,
			Multiplier: 2.0,
		},
		RawResponses: RawResponsesConfig{
			Mode:  "errors",
			Keep:  200,
			MaxMB: 100,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// RequiredCookies are the session cookies every request needs
var RequiredCookies = []string{"sessionid", "csrftoken", "ds_user_id"}

// cookieEnv and headerEnv map legacy environment variables onto the auth context
var cookieEnv = map[string]string{
	"IG_SESSIONID":  "sessionid",
	"IG_CSRFTOKEN":  "csrftoken",
	"IG_DS_USER_ID": "ds_user_id",
	"IG_RUR":        "rur",
}

var headerEnv = map[string]string{
	"IG_X_CSRF_TOKEN":   "X-CSRFToken",
	"IG_X_IG_APP_ID":    "X-IG-App-ID",
	"IG_X_IG_WWW_CLAIM": "X-IG-WWW-Claim",
	"IG_X_ASBD_ID":      "X-ASBD-ID",
	"IG_USER_AGENT":     "User-Agent",
	"IG_REFERER":        "Referer",
}

// AuthFromEnv collects the auth context set through environment variables
func AuthFromEnv() AuthConfig {
	auth := AuthConfig{Cookies: map[string]string{}, Headers: map[string]string{}}
	for env, name := range cookieEnv {
		if v := getenv(env); v != "" {
			auth.Cookies[name] = v
		}
	}
	for env, name := range headerEnv {
		if v := getenv(env); v != "" {
			auth.Headers[name] = v
		}
	}
	return auth
}

// LoadFromEnv loads configuration from environment variables.
// IGCOMMENTS_* variables take precedence over the legacy IG_* names.
func (c *Config) LoadFromEnv() error {
	if c.Instagram.Auth.Cookies == nil {
		c.Instagram.Auth.Cookies = map[string]string{}
	}
	if c.Instagram.Auth.Headers == nil {
		c.Instagram.Auth.Headers = map[string]string{}
	}
	env := AuthFromEnv()
	for name, v := range env.Cookies {
		c.Instagram.Auth.Cookies[name] = v
	}
	for name, v := range env.Headers {
		c.Instagram.Auth.Headers[name] = v
	}

	if v := getenv("IGCOMMENTS_ACCOUNT"); v != "" {
		c.Instagram.Account = v
	}
	if v := getenv("HTTP_PROXY"); v != "" {
		c.Instagram.Proxy.HTTP = v
	}
	if v := getenv("HTTPS_PROXY"); v != "" {
		c.Instagram.Proxy.HTTPS = v
	}

	var errs []error
	if err := envInt(&c.RateLimit.RequestsPerMinute, "IGCOMMENTS_REQUESTS_PER_MINUTE", "IG_REQUESTS_PER_MINUTE"); err != nil {
		errs = append(errs, err)
	}
	if err := envFloat(&c.RateLimit.JitterRatio, "IGCOMMENTS_JITTER_RATIO", "IG_JITTER_RATIO"); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(&c.Retry.Attempts, "IGCOMMENTS_RETRY_ATTEMPTS", "IG_RETRY_ATTEMPTS"); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(&c.Crawl.MaxComments, "IGCOMMENTS_MAX_COMMENTS", "IG_MAX_COMMENTS"); err != nil {
		errs = append(errs, err)
	}
	if err := envBool(&c.Crawl.FetchReplies, "IGCOMMENTS_FETCH_REPLIES", "IG_FETCH_REPLIES"); err != nil {
		errs = append(errs, err)
	}
	if err := envBool(&c.Crawl.ResumeByDefault, "IGCOMMENTS_RESUME", "IG_RESUME_BY_DEFAULT"); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(&c.Crawl.CommentsFirst, "IGCOMMENTS_COMMENTS_FIRST", "IG_COMMENTS_FIRST"); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(&c.Crawl.RepliesFirst, "IGCOMMENTS_REPLIES_FIRST", "IG_REPLIES_FIRST"); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(&c.RawResponses.Keep, "IGCOMMENTS_RAW_RESPONSES_KEEP", "IG_RAW_RESPONSES_KEEP"); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(&c.RawResponses.MaxMB, "IGCOMMENTS_RAW_RESPONSES_MAX_MB", "IG_RAW_RESPONSES_MAX_MB"); err != nil {
		errs = append(errs, err)
	}
	if v := getenv("IGCOMMENTS_SAVE_RAW_RESPONSES", "IG_SAVE_RAW_RESPONSES"); v != "" {
		c.RawResponses.Mode = strings.ToLower(v)
	}
	if v := getenv("IGCOMMENTS_TIMEOUT", "IG_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGCOMMENTS_TIMEOUT: %w", err))
		} else {
			c.Instagram.Timeout = d
		}
	}
	if v := getenv("IGCOMMENTS_DATA_DIR", "IG_DATA_DIR"); v != "" {
		c.Output.DataDirectory = v
	}
	if v := getenv("IGCOMMENTS_CHECKPOINT_BACKEND"); v != "" {
		c.Checkpoint.Backend = strings.ToLower(v)
	}
	if v := getenv("IGCOMMENTS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// getenv returns the first non-empty, non-placeholder value among keys
func getenv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" && !isPlaceholder(v) {
			return v
		}
	}
	return ""
}

// isPlaceholder detects template values such as YOUR_SESSIONID_HERE
func isPlaceholder(v string) bool {
	return strings.HasPrefix(v, "YOUR_")
}

func envInt(dst *int, keys ...string) error {
	v := getenv(keys...)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", keys[0], v)
	}
	*dst = n
	return nil
}

func envFloat(dst *float64, keys ...string) error {
	v := getenv(keys...)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", keys[0], v)
	}
	*dst = f
	return nil
}

func envBool(dst *bool, keys ...string) error {
	v := getenv(keys...)
	if v == "" {
		return nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%s: invalid boolean %q", keys[0], v)
	}
	return nil
}

// parseSeconds accepts either a Go duration ("45s") or a bare number of seconds
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(n * float64(time.Second)), nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igcomments.yaml",
		".igcomments.yml",
		filepath.Join(home, ".config", "igcomments", "config.yaml"),
		filepath.Join(home, ".config", "igcomments", "config.yml"),
		filepath.Join(home, ".igcomments.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// The crawler cannot talk to the API without a session
	for _, name := range RequiredCookies {
		if v := c.Instagram.Auth.Cookies[name]; v == "" || isPlaceholder(v) {
			errs = append(errs, fmt.Errorf("auth cookie %q is required", name))
		}
	}
	if c.Instagram.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if !c.Endpoints.Comments.IsConfigured() {
		errs = append(errs, errors.New("comments endpoint is not configured"))
	}
	if c.Crawl.FetchReplies && !c.Endpoints.CommentReplies.IsConfigured() {
		errs = append(errs, errors.New("comment_replies endpoint is not configured"))
	}

	if c.Crawl.MaxComments < 0 {
		errs = append(errs, errors.New("max comments cannot be negative"))
	}
	if c.Crawl.CommentsFirst < 0 || c.Crawl.RepliesFirst < 0 {
		errs = append(errs, errors.New("page sizes cannot be negative"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.RateLimit.JitterRatio < 0 || c.RateLimit.JitterRatio > 1 {
		errs = append(errs, errors.New("jitter ratio must be between 0 and 1"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}

	validModes := map[string]bool{"none": true, "errors": true, "all": true}
	if !validModes[strings.ToLower(c.RawResponses.Mode)] {
		errs = append(errs, fmt.Errorf("invalid raw response mode %q", c.RawResponses.Mode))
	}
	if c.RawResponses.Keep < 0 || c.RawResponses.MaxMB < 0 {
		errs = append(errs, errors.New("raw response limits cannot be negative"))
	}

	validBackends := map[string]bool{"file": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Checkpoint.Backend)] {
		errs = append(errs, fmt.Errorf("invalid checkpoint backend %q", c.Checkpoint.Backend))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Instagram.Account = account
	}
	if dataDir, ok := flags["data-dir"].(string); ok && dataDir != "" {
		c.Output.DataDirectory = dataDir
	}
	if maxComments, ok := flags["max-comments"].(int); ok && maxComments >= 0 {
		c.Crawl.MaxComments = maxComments
	}
	if replies, ok := flags["fetch-replies"].(bool); ok {
		c.Crawl.FetchReplies = replies
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if attempts, ok := flags["retry-attempts"].(int); ok && attempts > 0 {
		c.Retry.Attempts = attempts
	}
	if mode, ok := flags["raw-responses"].(string); ok && mode != "" {
		c.RawResponses.Mode = strings.ToLower(mode)
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	config, err := LoadUnvalidated(configPath, flags)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadUnvalidated resolves configuration like Load but skips validation,
// so credentials from a credential store can be merged in first.
func LoadUnvalidated(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igcomments.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	return config, nil
}
