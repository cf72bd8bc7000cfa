package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igcomments/pkg/auth"
	"igcomments/pkg/config"
	"igcomments/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igcomments configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IGCOMMENTS_*, IG_*)
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with every option",
	Long: `Create a configuration file holding the default value of every option.

The file is written to ~/.config/igcomments/config.yaml unless a different
path is given with the --config flag. Fill in the endpoint doc_ids you
captured from the browser before crawling.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the resolved configuration from all sources.

Cookie and header values are masked.`,
	Run: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the resolved configuration, including stored credentials.

This command checks:
  - YAML syntax
  - Session cookies
  - Endpoint descriptors
  - Value ranges`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configFile
	if path == "" {
		path = config.FilePath("")
	}

	if _, err := os.Stat(path); err == nil {
		ui.PrintError("Configuration file already exists", path)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", path)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.Endpoints.Comments.DocID = "YOUR_COMMENTS_DOC_ID"
	cfg.Endpoints.CommentReplies.DocID = "YOUR_REPLIES_DOC_ID"
	if err := cfg.Save(path); err != nil {
		ui.PrintError("Failed to create configuration file", err)
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set endpoints.comments.doc_id and endpoints.comment_replies.doc_id")
	fmt.Println("2. Store a session with 'igcomments auth login'")
	fmt.Println("3. Run 'igcomments config validate' to check the configuration")
	fmt.Println("4. Crawl with 'igcomments crawl <post-url>'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadUnvalidated(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		os.Exit(1)
	}

	masked := auth.SanitizeAccount(&auth.Account{
		Name:    cfg.Instagram.Account,
		Cookies: cfg.Instagram.Auth.Cookies,
		Headers: cfg.Instagram.Auth.Headers,
	})
	display := *cfg
	display.Instagram.Auth = config.AuthConfig{Cookies: masked.Cookies, Headers: masked.Headers}

	data, err := yaml.Marshal(&display)
	if err != nil {
		ui.PrintError("Failed to format configuration", err)
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (IGCOMMENTS_*, IG_*)")
	fmt.Printf("3. Configuration file: %s\n", config.FilePath(configFile))
	fmt.Println("4. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	ui.PrintInfo("Validating configuration", config.FilePath(configFile))

	cfg, err := loadCrawlConfig(nil)
	if err != nil {
		ui.PrintError("Configuration has errors", "")
		fmt.Println(err)
		os.Exit(1)
	}

	var warnings []string
	if pbs := cfg.Endpoints.PostByShortcode; pbs.DocID == "" && pbs.QueryHash == "" {
		warnings = append(warnings, "post_by_shortcode has no doc_id, media ids are decoded from shortcodes")
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		warnings = append(warnings, "rate limiting is disabled")
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	dir, _ := cfg.DataDir()
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Data directory: %s\n", dir)
	fmt.Printf("  Max comments: %d\n", cfg.Crawl.MaxComments)
	fmt.Printf("  Fetch replies: %t\n", cfg.Crawl.FetchReplies)
	fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Retries per page: %d\n", cfg.Retry.Attempts)
	fmt.Printf("  Checkpoint backend: %s\n", cfg.Checkpoint.Backend)
	fmt.Printf("  Raw responses: %s\n", cfg.RawResponses.Mode)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
