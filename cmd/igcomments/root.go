package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"igcomments/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igcomments",
	Short: "Crawl the complete comment tree of an Instagram post",
	Long: `igcomments collects every top-level comment of an Instagram post, and the
replies under each of them, into one JSON record.

Features:
  - Resumable crawls with checkpoints (file or SQLite)
  - Adaptive rate limiting with penalties on throttling
  - Bounded retries with exponential backoff
  - Raw response archive for debugging schema changes
  - Secure storage of captured session cookies
  - Optional Prometheus metrics endpoint`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if quiet {
			ui.SetQuietMode(true)
		}
		if cmd.Name() == "crawl" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.igcomments.yaml or ~/.config/igcomments/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug logs and every progress update")

	rootCmd.SetVersionTemplate(`igcomments {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// effectiveLogLevel folds --quiet and --verbose into the log level flag
func effectiveLogLevel() string {
	switch {
	case logLevel != "":
		return logLevel
	case verbose:
		return "debug"
	case quiet:
		return "error"
	default:
		return ""
	}
}
