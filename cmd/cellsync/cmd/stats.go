package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cellsync/internal/analytics"
	"cellsync/internal/utils"
)

// analyticsEnabled applies the environment override to the config value.
func (a *app) analyticsEnabled() bool {
	return analytics.IsEnabled(a.conf.IsAnalyticsEnabled(), a.cfg.Getenv)
}

func (a *app) openTracker() (*analytics.Tracker, error) {
	return analytics.NewTracker(a.conf.Analytics.Path, a.analyticsEnabled(), nil)
}

// track records the command that just ran. Commands that never loaded the
// config (help, version, parse errors) and the long-running daemon are not
// recorded.
func (a *app) track(executed *cobra.Command, start time.Time, err error) {
	if a.conf == nil || executed == nil || !executed.HasParent() || executed.Name() == "run" {
		return
	}
	if !a.analyticsEnabled() {
		return
	}

	parts := strings.Fields(executed.CommandPath())[1:]
	command, subcommand := parts[0], strings.Join(parts[1:], " ")
	var flags []string
	executed.Flags().Visit(func(f *pflag.Flag) {
		flags = append(flags, f.Name)
	})

	tracker, openErr := a.openTracker()
	if openErr != nil {
		utils.Debugf("analytics: %v", openErr)
		return
	}
	defer func() { _ = tracker.Close() }()
	if trackErr := tracker.Track(command, subcommand, flags, start, err); trackErr != nil {
		utils.Debugf("analytics: %v", trackErr)
	}
}

// cleanupAnalytics drops events past the retention period.
func (a *app) cleanupAnalytics() {
	tracker, err := a.openTracker()
	if err != nil {
		utils.Debugf("analytics: %v", err)
		return
	}
	defer func() { _ = tracker.Close() }()
	deleted, err := tracker.Cleanup(a.conf.Analytics.RetentionDays)
	if err != nil {
		utils.Warnf("analytics cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		utils.Debugf("analytics: removed %d old events", deleted)
	}
}

type statsResponse struct {
	Enabled bool                     `json:"enabled"`
	Days    int                      `json:"days"`
	Stats   []analytics.CommandStats `json:"stats"`
	Recent  []analytics.Event        `json:"recent,omitempty"`
	Result  string                   `json:"result"`
}

func newStatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local command statistics",
		Long: `Show how often each command ran, how many runs failed and how long they took.
Statistics stay on this machine; disable them with analytics.enabled: false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			recent, _ := cmd.Flags().GetInt("recent")
			if days < 0 || recent < 0 {
				return utils.WrapWithSuggestion(fmt.Errorf("--days and --recent must not be negative"),
					"Use --days 0 for all recorded history")
			}

			enabled := a.analyticsEnabled()
			if !enabled && !a.jsonOutput(cmd) {
				_, _ = fmt.Fprintln(a.stdout, "Analytics are disabled; set analytics.enabled: true in the config file")
				a.result(ResultInfoOnly)
				return nil
			}

			tracker, err := a.openTracker()
			if err != nil {
				return err
			}
			defer func() { _ = tracker.Close() }()

			stats, err := tracker.Summary(days)
			if err != nil {
				return fmt.Errorf("failed to read statistics: %w", err)
			}
			var events []analytics.Event
			if recent > 0 {
				if events, err = tracker.Recent(recent); err != nil {
					return fmt.Errorf("failed to read statistics: %w", err)
				}
			}

			if a.jsonOutput(cmd) {
				if stats == nil {
					stats = []analytics.CommandStats{}
				}
				return writeJSON(a.stdout, statsResponse{
					Enabled: enabled, Days: days, Stats: stats, Recent: events, Result: ResultInfoOnly,
				})
			}

			if len(stats) == 0 {
				_, _ = fmt.Fprintln(a.stdout, "No commands recorded yet")
			} else {
				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("COMMAND", "RUNS", "FAILED", "AVG")
				for _, s := range stats {
					name := strings.TrimSpace(s.Command + " " + s.Subcommand)
					avg := time.Duration(s.AvgMs * float64(time.Millisecond)).Round(time.Millisecond)
					t.Row(name, fmt.Sprint(s.Runs), fmt.Sprint(s.Failures), avg.String())
				}
				_, _ = fmt.Fprintln(a.stdout, t.Render())
			}
			for _, e := range events {
				outcome := "ok"
				if !e.Success {
					outcome = "failed (" + e.ErrorType + ")"
				}
				name := strings.TrimSpace(e.Command + " " + e.Subcommand)
				_, _ = fmt.Fprintf(a.stdout, "%s  %-20s %s\n", formatTime(time.Unix(e.Timestamp, 0)), name, outcome)
			}
			a.result(ResultInfoOnly)
			return nil
		},
	}
	cmd.Flags().Int("days", 30, "Only count commands from the last N days (0 = all)")
	cmd.Flags().Int("recent", 0, "Also list the N most recent commands")
	return cmd
}
