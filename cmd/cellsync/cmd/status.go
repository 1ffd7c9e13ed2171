package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"cellsync/backend"
	"cellsync/internal/runner"
	"cellsync/internal/tui"
)

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync tasks and their progress",
		Long:  "Open a live dashboard of all tasks. With --once, print the table and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			if once || a.cfg.NoPrompt || a.jsonOutput(cmd) {
				return a.runTaskList(cmd)
			}

			refresh, _ := cmd.Flags().GetDuration("refresh")
			p := tea.NewProgram(tui.New(routedSource{a}, refresh),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(a.stdin()),
				tea.WithOutput(a.stdout))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("once", false, "Print the task table once instead of the dashboard")
	cmd.Flags().Duration("refresh", tui.DefaultRefresh, "Dashboard refresh interval")
	return cmd
}

// routedSource picks the daemon or the local store on every call, so the
// dashboard follows a daemon that starts or stops while it is open.
type routedSource struct {
	a *app
}

func (s routedSource) Live() bool {
	return s.a.daemonRunning()
}

func (s routedSource) Snapshot(ctx context.Context) ([]runner.TaskStatus, error) {
	svc, closeSvc, err := s.a.service(ctx)
	if err != nil {
		return nil, err
	}
	defer closeSvc()
	return svc.Snapshot(ctx)
}

func (s routedSource) Pause(ctx context.Context, id string) (*backend.Task, error) {
	svc, closeSvc, err := s.a.service(ctx)
	if err != nil {
		return nil, err
	}
	defer closeSvc()
	return svc.Pause(ctx, id)
}

func (s routedSource) Resume(ctx context.Context, id string) (*backend.Task, error) {
	svc, closeSvc, err := s.a.service(ctx)
	if err != nil {
		return nil, err
	}
	defer closeSvc()
	return svc.Resume(ctx, id)
}

func (s routedSource) Delete(ctx context.Context, id string) error {
	svc, closeSvc, err := s.a.service(ctx)
	if err != nil {
		return err
	}
	defer closeSvc()
	return svc.Delete(ctx, id)
}
