package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"igcomments/internal/app"
	"igcomments/pkg/auth"
	"igcomments/pkg/checkpoint"
	"igcomments/pkg/config"
	"igcomments/pkg/crawler"
	"igcomments/pkg/logger"
	"igcomments/pkg/ui"
)

var (
	// Crawl command flags
	maxComments   int
	noResume      bool
	noReplies     bool
	accountName   string
	dataDir       string
	rateLimit     int
	retryAttempts int
	rawResponses  string
	metricsAddr   string
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <post-url|shortcode>",
	Short: "Collect the comments and replies of a post",
	Long: `Collect the comment tree of one Instagram post into a JSON record.

The crawl needs a captured session, taken from one of:
  - Stored credentials (use 'igcomments auth login' to store)
  - Environment variables (IG_SESSIONID, IG_CSRFTOKEN, IG_DS_USER_ID)
  - Configuration file

Progress is checkpointed after every page. Running the same command again
resumes an interrupted crawl; a completed crawl is rebuilt from its
checkpoint without new requests.`,
	Example: `  # Crawl a post by URL
  igcomments crawl https://www.instagram.com/p/C1a2B3c4D5e/

  # Top-level comments only, at most 100
  igcomments crawl C1a2B3c4D5e --no-replies --max-comments 100

  # Start over, ignoring any checkpoint
  igcomments crawl C1a2B3c4D5e --no-resume

  # Expose Prometheus metrics while crawling
  igcomments crawl C1a2B3c4D5e --metrics-addr 127.0.0.1:9464`,
	Args: cobra.ExactArgs(1),
	Run:  runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().IntVarP(&maxComments, "max-comments", "m", 0, "stop after this many comments and replies (0 means no limit)")
	crawlCmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore any existing checkpoint")
	crawlCmd.Flags().BoolVar(&noReplies, "no-replies", false, "collect top-level comments only")
	crawlCmd.Flags().StringVarP(&accountName, "account", "a", "", "use specific stored account")
	crawlCmd.Flags().StringVarP(&dataDir, "data-dir", "o", "", "directory for records, checkpoints and raw responses")
	crawlCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute")
	crawlCmd.Flags().IntVar(&retryAttempts, "retry-attempts", 0, "retries per page after the first attempt")
	crawlCmd.Flags().StringVar(&rawResponses, "raw-responses", "", "archive raw responses: none, errors or all")
	crawlCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while crawling")
}

// crawlFlags collects the flags the user actually set
func crawlFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	f := cmd.Flags()
	if f.Changed("max-comments") {
		flags["max-comments"] = maxComments
	}
	if noReplies {
		flags["fetch-replies"] = false
	}
	if accountName != "" {
		flags["account"] = accountName
	}
	if dataDir != "" {
		flags["data-dir"] = dataDir
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if retryAttempts > 0 {
		flags["retry-attempts"] = retryAttempts
	}
	if rawResponses != "" {
		flags["raw-responses"] = rawResponses
	}
	if metricsAddr != "" {
		flags["metrics-addr"] = metricsAddr
	}
	if level := effectiveLogLevel(); level != "" {
		flags["log-level"] = level
	}
	return flags
}

// loadCrawlConfig resolves configuration and merges in stored credentials
func loadCrawlConfig(flags map[string]interface{}) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(configFile, flags)
	if err != nil {
		return nil, err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	account, err := manager.RetrieveDefault(cfg.Instagram.Account)
	switch {
	case err == nil:
		account.Apply(cfg)
		if account.Name != auth.EnvAccountName {
			ui.PrintInfo("Using account", account.Name)
		}
	case cfg.Instagram.Account != "":
		return nil, fmt.Errorf("account %q: %w", cfg.Instagram.Account, err)
	case !errors.Is(err, auth.ErrCredentialsNotFound):
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func runCrawl(cmd *cobra.Command, args []string) {
	ref := strings.TrimSpace(args[0])

	cfg, err := loadCrawlConfig(crawlFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		if errors.Is(err, auth.ErrCredentialsNotFound) || strings.Contains(err.Error(), "auth cookie") {
			auth.ShowQuickCaptureGuide(os.Stderr)
		}
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err)
		os.Exit(1)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("igcomments starting")

	a, err := app.New(cfg, log)
	if err != nil {
		ui.PrintError("Failed to initialize crawler", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := crawler.RunConfig{
		Target:       ref,
		MaxItems:     cfg.Crawl.MaxComments,
		Resume:       cfg.Crawl.ResumeByDefault && !noResume,
		FetchReplies: cfg.Crawl.FetchReplies,
	}
	ui.PrintInfo("Target", ref)
	progress := ui.NewProgress(ref, run.MaxItems, verbose)

	out, err := a.Crawl(ctx, run, progress)
	if err != nil {
		if app.IsInterrupted(err) {
			ui.PrintWarning("Interrupted, progress is checkpointed", "run the same command to resume")
			a.Close()
			os.Exit(130)
		}
		ui.PrintError("Crawl failed", err)
		if out != nil && out.Result != nil && out.StopReason != "" {
			ui.PrintInfo("Stop reason", out.StopReason)
		}
		a.Close()
		os.Exit(1)
	}

	if out.Status != checkpoint.StatusDone {
		ui.PrintWarning(fmt.Sprintf("Crawl finished with status %s", out.Status), out.StopReason)
	}
	fmt.Printf("Saved: %s\n", out.RecordPath)
	fmt.Printf("Comments: %d\n", out.Items)
}
