package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cellsync/backend"
)

func newIgnoreCmd(a *app) *cobra.Command {
	ignoreCmd := &cobra.Command{
		Use:   "ignore",
		Short: "Manage ignore patterns",
		Long: `Manage the glob patterns of files that are never synced.
Global patterns apply to every task; --task edits the patterns of one task.`,
	}

	ignoreCmd.PersistentFlags().StringP("task", "t", "", "Task id (default: global patterns)")

	ignoreCmd.AddCommand(newIgnoreListCmd(a))
	ignoreCmd.AddCommand(newIgnoreAddCmd(a))
	ignoreCmd.AddCommand(newIgnoreRemoveCmd(a))
	ignoreCmd.AddCommand(newIgnoreTestCmd(a))

	return ignoreCmd
}

type ignoresResponse struct {
	Task     string   `json:"task,omitempty"`
	Patterns []string `json:"patterns"`
	Result   string   `json:"result"`
}

func newIgnoreListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ignore patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			taskRef, _ := cmd.Flags().GetString("task")
			patterns, taskID, err := currentIgnores(ctx, svc, taskRef)
			if err != nil {
				return err
			}
			return a.printIgnores(cmd, taskID, patterns, ResultInfoOnly)
		},
	}
}

func newIgnoreAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "add <pattern>...",
		Short:   "Add ignore patterns",
		Example: "  cellsync ignore add '*.tmp' '.DS_Store'\n  cellsync ignore add --task 1a2b 'build/**'",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.updateIgnores(cmd, func(patterns []string) []string {
				for _, p := range args {
					patterns = backend.AddIgnore(patterns, p)
				}
				return patterns
			})
		},
	}
}

func newIgnoreRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <pattern>...",
		Aliases: []string{"rm"},
		Short:   "Remove ignore patterns",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.updateIgnores(cmd, func(patterns []string) []string {
				for _, p := range args {
					patterns = backend.RemoveIgnore(patterns, p)
				}
				return patterns
			})
		},
	}
}

func newIgnoreTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test <path>",
		Short: "Check whether a path would be ignored",
		Long:  "Match a relative path against the global patterns, plus the task patterns when --task is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			patterns, err := svc.GlobalIgnores(ctx)
			if err != nil {
				return err
			}
			if taskRef, _ := cmd.Flags().GetString("task"); taskRef != "" {
				st, err := findTask(ctx, svc, taskRef)
				if err != nil {
					return err
				}
				patterns = append(patterns, st.Task.Ignores...)
			}

			pattern, ignored := backend.MatchIgnores(patterns, args[0])
			if a.jsonOutput(cmd) {
				return writeJSON(a.stdout, struct {
					Path    string `json:"path"`
					Ignored bool   `json:"ignored"`
					Pattern string `json:"pattern,omitempty"`
					Result  string `json:"result"`
				}{args[0], ignored, pattern, ResultInfoOnly})
			}
			if ignored {
				_, _ = fmt.Fprintf(a.stdout, "%s is ignored by %q\n", args[0], pattern)
			} else {
				_, _ = fmt.Fprintf(a.stdout, "%s is synced\n", args[0])
			}
			a.result(ResultInfoOnly)
			return nil
		},
	}
}

// currentIgnores returns the global patterns, or those of the task ref names.
func currentIgnores(ctx context.Context, svc service, taskRef string) (patterns []string, taskID string, err error) {
	if taskRef == "" {
		patterns, err = svc.GlobalIgnores(ctx)
		return patterns, "", err
	}
	st, err := findTask(ctx, svc, taskRef)
	if err != nil {
		return nil, "", err
	}
	return st.Task.Ignores, st.Task.ID, nil
}

func (a *app) updateIgnores(cmd *cobra.Command, change func([]string) []string) error {
	ctx := cmd.Context()
	svc, closeSvc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer closeSvc()

	taskRef, _ := cmd.Flags().GetString("task")
	if taskRef == "" {
		current, err := svc.GlobalIgnores(ctx)
		if err != nil {
			return err
		}
		stored, err := svc.SetGlobalIgnores(ctx, change(current))
		if err != nil {
			return err
		}
		return a.printIgnores(cmd, "", stored, ResultActionCompleted)
	}

	st, err := findTask(ctx, svc, taskRef)
	if err != nil {
		return err
	}
	def := st.Task.Definition()
	def.Ignores = change(def.Ignores)
	task, err := svc.Edit(ctx, st.Task.ID, def)
	if err != nil {
		return err
	}
	return a.printIgnores(cmd, task.ID, task.Ignores, ResultActionCompleted)
}

func (a *app) printIgnores(cmd *cobra.Command, taskID string, patterns []string, result string) error {
	if patterns == nil {
		patterns = []string{}
	}
	if a.jsonOutput(cmd) {
		return writeJSON(a.stdout, ignoresResponse{Task: taskID, Patterns: patterns, Result: result})
	}

	scope := "Global ignore patterns"
	if taskID != "" {
		scope = "Ignore patterns of task " + shortID(taskID)
	}
	if len(patterns) == 0 {
		_, _ = fmt.Fprintf(a.stdout, "%s: none\n", scope)
	} else {
		_, _ = fmt.Fprintf(a.stdout, "%s:\n", scope)
		for _, p := range patterns {
			_, _ = fmt.Fprintf(a.stdout, "  %s\n", p)
		}
	}
	a.result(result)
	return nil
}
