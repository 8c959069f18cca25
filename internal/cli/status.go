package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aldrin/coursedesk/internal/config"
	"github.com/aldrin/coursedesk/pkg/session"
	"github.com/aldrin/coursedesk/pkg/team"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sessions and delegation statistics",
	Long:  `Show active sessions, archived transcripts and sub-agent run statistics.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(out, "Data dir: %s\n", cfg.DataDir)

	manager, err := session.NewManager(cfg.Sessions.Dir)
	if err == nil {
		if keys, err := manager.ListSessions(); err == nil {
			fmt.Fprintf(out, "Active sessions: %d\n", len(keys))
		}
	}

	if _, err := os.Stat(cfg.Sessions.ArchiveDB); err == nil {
		archiver, err := session.NewArchiver(session.ArchiverConfig{
			Manager: manager,
			DBPath:  cfg.Sessions.ArchiveDB,
		})
		if err == nil {
			if count, err := archiver.CountArchived(); err == nil {
				fmt.Fprintf(out, "Archived messages: %d\n", count)
			}
			archiver.Close()
		}
	}

	tracker, err := team.NewTracker(team.TrackerConfig{
		RegistryPath: filepath.Join(cfg.DataDir, "runs.json"),
	})
	if err == nil {
		if err := tracker.Load(); err == nil {
			stats := tracker.Stats()
			fmt.Fprintf(out, "Delegations: %d total, %d active, %d completed, %d failed\n",
				stats.TotalRuns, stats.ActiveRuns, stats.CompletedRuns, stats.FailedRuns)
		}
	}

	return nil
}
