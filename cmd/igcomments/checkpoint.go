package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"igcomments/pkg/checkpoint"
	"igcomments/pkg/config"
	"igcomments/pkg/logger"
	"igcomments/pkg/storage"
	"igcomments/pkg/ui"
)

// checkpointCmd represents the checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and remove crawl checkpoints",
}

var checkpointStatusCmd = &cobra.Command{
	Use:   "status [shortcode]",
	Short: "Show stored checkpoints",
	Args:  cobra.MaximumNArgs(1),
	Run:   runCheckpointStatus,
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <shortcode|media-id>",
	Short: "Delete a checkpoint so the next crawl starts fresh",
	Args:  cobra.ExactArgs(1),
	Run:   runCheckpointDelete,
}

var keepBackup bool

// backuper is implemented by stores that can copy a checkpoint aside
type backuper interface {
	Backup(targetID string) error
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointStatusCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	checkpointCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "o", "", "directory for records, checkpoints and raw responses")
	checkpointDeleteCmd.Flags().BoolVar(&keepBackup, "backup", false, "copy the checkpoint aside before deleting (file backend)")
}

func checkpointConfig() *config.Config {
	flags := map[string]interface{}{}
	if dataDir != "" {
		flags["data-dir"] = dataDir
	}
	cfg, err := config.LoadUnvalidated(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		os.Exit(1)
	}
	return cfg
}

func openCheckpoints(cfg *config.Config) (checkpoint.ListableStore, func()) {
	dir, err := cfg.SubDir("checkpoints")
	if err != nil {
		ui.PrintError("Failed to open checkpoint directory", err)
		os.Exit(1)
	}
	store, closer, err := checkpoint.Open(strings.ToLower(cfg.Checkpoint.Backend), dir, logger.NewNopLogger())
	if err != nil {
		ui.PrintError("Failed to open checkpoints", err)
		os.Exit(1)
	}
	return store, func() { closer.Close() }
}

// matchCheckpoints returns the checkpoints whose shortcode or media id is ref
func matchCheckpoints(infos []checkpoint.Info, ref string) []checkpoint.Info {
	if ref == "" {
		return infos
	}
	var out []checkpoint.Info
	for _, info := range infos {
		if info.DisplayID == ref || info.TargetID == ref {
			out = append(out, info)
		}
	}
	return out
}

func runCheckpointStatus(cmd *cobra.Command, args []string) {
	cfg := checkpointConfig()
	store, done := openCheckpoints(cfg)
	defer done()

	var records *storage.Manager
	if dir, err := cfg.SubDir("records"); err == nil {
		records, _ = storage.NewManager(dir)
	}

	infos, err := store.List()
	if err != nil {
		ui.PrintError("Failed to list checkpoints", err)
		os.Exit(1)
	}
	ref := ""
	if len(args) > 0 {
		ref = args[0]
	}
	infos = matchCheckpoints(infos, ref)
	if len(infos) == 0 {
		ui.PrintInfo("No checkpoints", "nothing to resume")
		return
	}

	for _, info := range infos {
		ui.PrintHighlight(fmt.Sprintf("%s (%s)", info.DisplayID, info.TargetID))
		fmt.Printf("   Status: %s", info.Status)
		if info.StopReason != "" {
			fmt.Printf(" (%s)", info.StopReason)
		}
		fmt.Println()
		fmt.Printf("   Items: %d in %d pages\n", info.Items, info.Pages)
		fmt.Printf("   Contexts: %d, %d still open\n", info.Contexts, info.Open)
		fmt.Printf("   Updated: %s (%s ago)\n", info.UpdatedAt.Local().Format("2006-01-02 15:04:05"), info.Age.Round(time.Second))
		fmt.Printf("   Run: %s\n", info.RunID)
		if records != nil {
			if path, err := records.LatestRecord(info.DisplayID); err == nil && path != "" {
				fmt.Printf("   Record: %s\n", path)
			}
		}
	}
}

func runCheckpointDelete(cmd *cobra.Command, args []string) {
	store, done := openCheckpoints(checkpointConfig())
	defer done()

	infos, err := store.List()
	if err != nil {
		ui.PrintError("Failed to list checkpoints", err)
		os.Exit(1)
	}
	matches := matchCheckpoints(infos, args[0])
	if len(matches) == 0 {
		ui.PrintError("No checkpoint found", args[0])
		os.Exit(1)
	}
	for _, info := range matches {
		if keepBackup {
			b, ok := store.(backuper)
			if !ok {
				ui.PrintError("Backups are only supported by the file backend")
				os.Exit(1)
			}
			if err := b.Backup(info.TargetID); err != nil {
				ui.PrintError("Failed to back up checkpoint", err)
				os.Exit(1)
			}
		}
		if err := store.Delete(info.TargetID); err != nil {
			ui.PrintError("Failed to delete checkpoint", err)
			os.Exit(1)
		}
		ui.PrintSuccess(fmt.Sprintf("Checkpoint deleted: %s (%s)", info.DisplayID, info.TargetID))
	}
}
