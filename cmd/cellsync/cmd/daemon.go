package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cellsync/internal/daemon"
	"cellsync/internal/notification"
	"cellsync/internal/runner"
	"cellsync/internal/shutdown"
	"cellsync/internal/utils"
)

// cleanupTimeout bounds the daemon's shutdown cleanups.
const cleanupTimeout = 10 * time.Second

func newDaemonCmd(a *app) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
		Long:  "The daemon runs the recurring passes of active tasks. 'task resume' starts it on demand.",
	}
	daemonCmd.AddCommand(newDaemonStartCmd(a))
	daemonCmd.AddCommand(newDaemonStopCmd(a))
	daemonCmd.AddCommand(newDaemonStatusCmd(a))
	return daemonCmd
}

func newDaemonStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := a.daemonConfig()
			if daemon.IsRunning(dc.PIDPath, dc.SocketPath) {
				pid, _ := daemon.ReadPID(dc.PIDPath)
				_, _ = fmt.Fprintf(a.stdout, "Daemon already running (PID %d)\n", pid)
				a.result(ResultInfoOnly)
				return nil
			}

			if err := daemon.Fork(dc); err != nil {
				return err
			}
			if !daemon.WaitRunning(dc, 5*time.Second) {
				return utils.WrapWithSuggestion(fmt.Errorf("daemon did not start"),
					fmt.Sprintf("Check the daemon log at %s", dc.LogPath))
			}
			pid, _ := daemon.ReadPID(dc.PIDPath)
			_, _ = fmt.Fprintf(a.stdout, "Daemon started (PID %d)\n", pid)
			a.result(ResultActionCompleted)
			return nil
		},
	}
}

func newDaemonStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		Long:  "Stop the daemon. Active tasks stay active and resume when the daemon starts again.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := a.daemonConfig()
			if !daemon.IsRunning(dc.PIDPath, dc.SocketPath) {
				_, _ = fmt.Fprintln(a.stdout, "Daemon is not running")
				a.result(ResultInfoOnly)
				return nil
			}

			if err := daemon.NewClient(dc.SocketPath).Stop(); err != nil {
				return err
			}
			deadline := time.Now().Add(cleanupTimeout)
			for daemon.IsRunning(dc.PIDPath, dc.SocketPath) {
				if time.Now().After(deadline) {
					return fmt.Errorf("daemon did not stop within %s", cleanupTimeout)
				}
				time.Sleep(50 * time.Millisecond)
			}
			_, _ = fmt.Fprintln(a.stdout, "Daemon stopped")
			a.result(ResultActionCompleted)
			return nil
		},
	}
}

func newDaemonStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := a.daemonConfig()
			resp := &daemon.Response{Status: "ok"}
			if daemon.IsRunning(dc.PIDPath, dc.SocketPath) {
				var err error
				if resp, err = daemon.NewClient(dc.SocketPath).Status(); err != nil {
					return err
				}
			}

			if a.jsonOutput(cmd) {
				return writeJSON(a.stdout, struct {
					Running bool   `json:"running"`
					PID     int    `json:"pid,omitempty"`
					Tasks   int    `json:"tasks"`
					Active  int    `json:"active"`
					Socket  string `json:"socket"`
					Result  string `json:"result"`
				}{resp.Running, resp.PID, len(resp.Tasks), countActive(resp.Tasks), dc.SocketPath, ResultInfoOnly})
			}

			if !resp.Running {
				_, _ = fmt.Fprintln(a.stdout, "Daemon is not running")
			} else {
				_, _ = fmt.Fprintf(a.stdout, "Daemon is running (PID %d)\n", resp.PID)
				_, _ = fmt.Fprintf(a.stdout, "Socket: %s\n", dc.SocketPath)
				_, _ = fmt.Fprintf(a.stdout, "Tasks:  %d (%d active)\n", len(resp.Tasks), countActive(resp.Tasks))
			}
			a.result(ResultInfoOnly)
			return nil
		},
	}
}

func countActive(statuses []runner.TaskStatus) int {
	n := 0
	for _, st := range statuses {
		if st.Task.Active {
			n++
		}
	}
	return n
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Long:  "Run active tasks and serve CLI requests until interrupted. 'daemon start' runs this in the background.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDaemon(cmd.Context())
		},
	}
}

// runDaemon hosts the task runner until a signal, a stop request or ctx ends it.
func (a *app) runDaemon(ctx context.Context) error {
	dc := a.daemonConfig()
	if daemon.IsRunning(dc.PIDPath, dc.SocketPath) {
		pid, _ := daemon.ReadPID(dc.PIDPath)
		return utils.WrapWithSuggestion(fmt.Errorf("daemon already running (PID %d)", pid),
			"Stop it with 'cellsync daemon stop'")
	}

	bl, err := utils.NewBackgroundLogger(dc.LogPath, a.conf.IsBackgroundLoggingEnabled())
	if err != nil {
		utils.Warnf("daemon log: %v", err)
	}
	defer bl.Close()
	bl.Printf("daemon started (PID %d)", os.Getpid())
	defer bl.Printf("daemon stopped (PID %d)", os.Getpid())
	logger := utils.GetLogger()
	logger.SetOutput(io.MultiWriter(a.stderr, bl))
	defer logger.SetOutput(nil)

	sd := shutdown.NewManager()
	sd.ListenForSignals(os.Interrupt, syscall.SIGTERM)
	defer sd.Shutdown()
	go func() {
		select {
		case <-ctx.Done():
			sd.Shutdown()
		case <-sd.Done():
		}
	}()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	sd.RegisterCleanup("store", func(context.Context) error { return store.Close() })

	notifier, err := notification.NewManager(daemon.NotificationConfig(a.conf))
	if err != nil {
		utils.Warnf("notifications disabled: %v", err)
	} else {
		sd.RegisterCleanup("notifications", func(context.Context) error { return notifier.Close() })
	}

	if a.analyticsEnabled() {
		a.cleanupAnalytics()
	}

	eng := a.engine()
	if err := a.loginStored(sd.Context(), eng); err != nil {
		utils.Warnf("login: %v", err)
	}

	events := runner.MultiSink{runner.LogSink{}}
	if notifier != nil {
		events = append(events, daemon.NotifySink{Notifier: notifier})
	}
	mgr := runner.NewManager(sd.Context(), store, eng, runner.Options{
		PollInterval: a.conf.PollInterval(),
		Events:       events,
	})
	sd.RegisterCleanup("runner", func(context.Context) error {
		mgr.Shutdown()
		mgr.Wait()
		return nil
	})

	if _, err := mgr.Start(sd.Context()); err != nil {
		utils.Errorf("start tasks: %v", err)
	}

	serveErr := daemon.New(dc, mgr).Serve(sd.Context())

	sd.Shutdown()
	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := sd.Cleanup(cleanupCtx); err != nil {
		utils.Warnf("shutdown: %v", err)
	}
	utils.Infof("daemon stopped")
	return serveErr
}
