package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"cellsync/backend"
	"cellsync/internal/config"
	"cellsync/internal/runner"
	"cellsync/internal/tui"
	"cellsync/internal/utils"
)

func newTaskCmd(a *app) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage sync tasks",
		Long:  "View all sync tasks or manage them with subcommands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTaskList(cmd)
		},
	}

	taskCmd.AddCommand(newTaskListCmd(a))
	taskCmd.AddCommand(newTaskShowCmd(a))
	taskCmd.AddCommand(newTaskCreateCmd(a))
	taskCmd.AddCommand(newTaskEditCmd(a))
	taskCmd.AddCommand(newTaskDeleteCmd(a))
	taskCmd.AddCommand(newTaskPauseCmd(a))
	taskCmd.AddCommand(newTaskResumeCmd(a))

	return taskCmd
}

func newTaskListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sync tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTaskList(cmd)
		},
	}
}

func (a *app) runTaskList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	svc, closeSvc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer closeSvc()

	statuses, err := svc.Snapshot(ctx)
	if err != nil {
		return err
	}

	if a.jsonOutput(cmd) {
		if statuses == nil {
			statuses = []runner.TaskStatus{}
		}
		return writeJSON(a.stdout, listResponse{Tasks: statuses, Count: len(statuses), Result: ResultInfoOnly})
	}

	doTaskTable(a.stdout, statuses, svc.Live())
	a.result(ResultInfoOnly)
	return nil
}

// doTaskTable prints one row per task.
func doTaskTable(w io.Writer, statuses []runner.TaskStatus, live bool) {
	if len(statuses) == 0 {
		_, _ = fmt.Fprintln(w, "No sync tasks. Create one with 'cellsync task create'.")
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "LOCAL", "REMOTE", "EVERY", "STATE", "PROGRESS")
	for _, st := range statuses {
		t.Row(
			shortID(st.Task.ID),
			st.Task.LocalPath,
			st.Task.Remote.DisplayName(),
			tui.FormatEvery(st.Task.Interval, st.Task.Unit),
			taskState(st, live),
			progressText(st),
		)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

// taskState names what a task is doing. Without a live daemon only the
// active flag is known.
func taskState(st runner.TaskStatus, live bool) string {
	switch {
	case !st.Task.Active:
		return "paused"
	case !live:
		return "active"
	case !st.Scheduled:
		return "stalled"
	case st.Polling:
		return "syncing"
	default:
		return "waiting"
	}
}

func progressText(st runner.TaskStatus) string {
	if st.Percent == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *st.Percent)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newTaskShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show sync task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			st, err := findTask(ctx, svc, args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return writeJSON(a.stdout, st)
			}
			doTaskShow(a.stdout, st, svc.Live())
			a.result(ResultInfoOnly)
			return nil
		},
	}
}

func doTaskShow(w io.Writer, st *runner.TaskStatus, live bool) {
	t := st.Task
	_, _ = fmt.Fprintf(w, "ID:       %s\n", t.ID)
	_, _ = fmt.Fprintf(w, "Local:    %s\n", t.LocalPath)
	_, _ = fmt.Fprintf(w, "Remote:   %s\n", t.Remote.DisplayName())
	if t.Remote.UUID != "" {
		_, _ = fmt.Fprintf(w, "Node:     %s\n", t.Remote.UUID)
	}
	_, _ = fmt.Fprintf(w, "Every:    %s\n", tui.FormatEvery(t.Interval, t.Unit))
	_, _ = fmt.Fprintf(w, "State:    %s\n", taskState(*st, live))
	_, _ = fmt.Fprintf(w, "Progress: %s\n", progressText(*st))
	if len(t.Ignores) > 0 {
		_, _ = fmt.Fprintf(w, "Ignores:  %s\n", strings.Join(t.Ignores, ", "))
	}
	_, _ = fmt.Fprintf(w, "Created:  %s\n", formatTime(t.Created))
	_, _ = fmt.Fprintf(w, "Modified: %s\n", formatTime(t.Modified))
}

// addDefinitionFlags registers the flags shared by create and edit.
func addDefinitionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("local", "l", "", "Local directory")
	cmd.Flags().StringP("remote", "r", "", "Remote directory path")
	cmd.Flags().String("remote-uuid", "", "Remote node id")
	cmd.Flags().StringP("every", "e", "", "Repeat interval with unit, e.g. 30s, 5m, 1.5h, 1d")
	cmd.Flags().Float64("interval", 0, "Repeat interval (with --unit)")
	cmd.Flags().String("unit", "", "Interval unit: second, minute, hour or day")
	cmd.Flags().StringSlice("ignore", nil, "Ignore pattern for this task (can be repeated)")
}

// applyDefinitionFlags copies the flags the user set onto def.
func applyDefinitionFlags(cmd *cobra.Command, def *backend.Definition) error {
	flags := cmd.Flags()
	if flags.Changed("local") {
		local, _ := flags.GetString("local")
		def.LocalPath = config.ExpandPath(local)
	}
	if flags.Changed("remote") {
		remote, _ := flags.GetString("remote")
		def.Remote = backend.RemoteNode{Path: remote}
	}
	if flags.Changed("remote-uuid") {
		id, _ := flags.GetString("remote-uuid")
		def.Remote.UUID = id
	}

	if flags.Changed("every") && (flags.Changed("interval") || flags.Changed("unit")) {
		return utils.WrapWithSuggestion(fmt.Errorf("--every cannot be combined with --interval or --unit"),
			"Use either --every 5m or --interval 5 --unit minute")
	}
	if flags.Changed("every") {
		every, _ := flags.GetString("every")
		value, unit, err := utils.ParseEvery(every)
		if err != nil {
			return err
		}
		u, err := backend.ParseUnit(unit)
		if err != nil {
			return utils.ErrInvalidInterval(every)
		}
		def.Interval, def.Unit = value, u
	}
	if flags.Changed("interval") {
		def.Interval, _ = flags.GetFloat64("interval")
	}
	if flags.Changed("unit") {
		unit, _ := flags.GetString("unit")
		u, err := backend.ParseUnit(unit)
		if err != nil {
			return err
		}
		def.Unit = u
	}

	if flags.Changed("ignore") {
		ignores, _ := flags.GetStringSlice("ignore")
		def.Ignores = ignores
	}
	return nil
}

func newTaskCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sync task",
		Long: `Create a sync task between a local directory and a remote directory.
The task starts paused; run 'cellsync task resume <id>' to start syncing.`,
		Example: `  cellsync task create --local ~/Documents --remote personal-files/docs --every 10m
  cellsync task create --local ~/Photos --pick --every 1d --ignore '*.tmp'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			def := backend.Definition{Interval: 5, Unit: backend.UnitMinute}
			if err := applyDefinitionFlags(cmd, &def); err != nil {
				return err
			}

			if pick, _ := cmd.Flags().GetBool("pick"); pick {
				node, err := a.pickRemote(ctx, def.Remote.Path)
				if err != nil {
					return err
				}
				def.Remote = node
			}

			svc, closeSvc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			task, err := svc.Create(ctx, def)
			if err != nil {
				return err
			}
			return a.taskAction(cmd, "created", task)
		},
	}
	addDefinitionFlags(cmd)
	cmd.Flags().Bool("pick", false, "Choose the remote directory interactively")
	return cmd
}

func newTaskEditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a sync task",
		Long:  "Change the fields given as flags. A running task picks up the change at its next pass.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			st, err := findTask(ctx, svc, args[0])
			if err != nil {
				return err
			}
			def := st.Task.Definition()
			if err := applyDefinitionFlags(cmd, &def); err != nil {
				return err
			}
			if clearIgnores, _ := cmd.Flags().GetBool("clear-ignores"); clearIgnores {
				def.Ignores = nil
			}

			task, err := svc.Edit(ctx, st.Task.ID, def)
			if err != nil {
				return err
			}
			return a.taskAction(cmd, "updated", task)
		},
	}
	addDefinitionFlags(cmd)
	cmd.Flags().Bool("clear-ignores", false, "Remove all task ignore patterns")
	return cmd
}

func newTaskDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a sync task",
		Long:    "Stop syncing and forget the task. Local and remote files are left alone.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			st, err := findTask(ctx, svc, args[0])
			if err != nil {
				return err
			}

			force, _ := cmd.Flags().GetBool("force")
			if !force && !a.cfg.NoPrompt {
				prompt := fmt.Sprintf("Delete sync task %s (%s)?", shortID(st.Task.ID), st.Task.LocalPath)
				if !utils.PromptYesNo(prompt, a.stdin(), a.stdout) {
					_, _ = fmt.Fprintln(a.stdout, "Cancelled")
					return nil
				}
			}

			if err := svc.Delete(ctx, st.Task.ID); err != nil {
				return err
			}
			return a.taskAction(cmd, "deleted", &st.Task)
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Delete without confirmation")
	return cmd
}

func newTaskPauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a sync task",
		Long:  "Stop the recurring passes of a task. A transfer in progress is asked to stop.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runToggle(cmd, args[0], "paused", service.Pause)
		},
	}
}

func newTaskResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a sync task",
		Long:  "Start the recurring passes of a task. The first pass runs immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runToggle(cmd, args[0], "resumed", service.Resume)
		},
	}
}

func (a *app) runToggle(cmd *cobra.Command, ref, action string, op func(service, context.Context, string) (*backend.Task, error)) error {
	ctx := cmd.Context()
	svc, closeSvc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer closeSvc()

	task, err := op(svc, ctx, ref)
	if err != nil {
		return err
	}
	return a.taskAction(cmd, action, task)
}

// taskAction reports a completed mutation.
func (a *app) taskAction(cmd *cobra.Command, action string, task *backend.Task) error {
	if a.jsonOutput(cmd) {
		return writeJSON(a.stdout, actionResponse{Action: action, Task: task, Result: ResultActionCompleted})
	}
	_, _ = fmt.Fprintf(a.stdout, "Sync task %s %s: %s -> %s\n", shortID(task.ID), action, task.LocalPath, task.Remote.DisplayName())
	a.result(ResultActionCompleted)
	return nil
}
