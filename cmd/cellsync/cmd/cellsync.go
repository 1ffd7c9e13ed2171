package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cellsync/backend"
	_ "cellsync/backend/file"
	_ "cellsync/backend/sqlite"
	"cellsync/internal/config"
	"cellsync/internal/credentials"
	"cellsync/internal/daemon"
	"cellsync/internal/engine"
	"cellsync/internal/runner"
	"cellsync/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds process-level settings and test seams. Everything else comes
// from the YAML config file.
type Config struct {
	NoPrompt   bool
	Verbose    bool
	ConfigPath string              // config file, DefaultPath when empty
	Stdin      io.Reader           // prompt input, os.Stdin when nil
	Engine     engine.Engine       // overrides the HTTP engine client
	Keyring    credentials.Keyring // overrides the system keyring
	Getenv     func(string) string // overrides os.Getenv for credentials
	NoFork     bool                // never start a background daemon
	Executable string              // binary the daemon is forked from
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	a := newApp(stdout, stderr, cfg)
	rootCmd := a.rootCommand()

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	start := time.Now()
	executed, err := rootCmd.ExecuteC()
	a.track(executed, start, err)
	if err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", userError(err))
			if cfg != nil && cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// userError attaches a suggestion to errors the user can act on.
func userError(err error) error {
	var ws *utils.ErrorWithSuggestion
	var ambiguous *backend.AmbiguousRefError
	switch {
	case errors.As(err, &ws):
		return err
	case errors.As(err, &ambiguous):
		return utils.ErrTaskAmbiguous(ambiguous.Ref)
	case errors.Is(err, backend.ErrTaskNotFound):
		return utils.WrapWithSuggestion(err, "Use 'cellsync task list' to see task ids")
	case errors.Is(err, daemon.ErrNotRunning):
		// The daemon went away between the liveness check and the command.
		return utils.ErrDaemonNotRunning()
	case engine.IsUnreachable(err):
		return utils.WrapWithSuggestion(err, "Check that the sync engine is running and engine.endpoint is correct")
	}
	return err
}

// app carries what every command needs once the config file is loaded.
type app struct {
	cfg    *Config
	conf   *config.Config
	stdout io.Writer
	stderr io.Writer
	in     io.Reader
}

// NewCellsync creates the root command with injectable IO
func NewCellsync(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return newApp(stdout, stderr, cfg).rootCommand()
}

func newApp(stdout, stderr io.Writer, cfg *Config) *app {
	if cfg == nil {
		cfg = &Config{}
	}
	return &app{cfg: cfg, stdout: stdout, stderr: stderr}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cellsync",
		Short:   "Recurring folder synchronization with a remote storage service",
		Long:    "cellsync keeps local folders in sync with remote directories by asking a sync engine to run each task on its own schedule.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to the config file")
	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(newTaskCmd(a))
	cmd.AddCommand(newIgnoreCmd(a))
	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newRemoteCmd(a))
	cmd.AddCommand(newDaemonCmd(a))
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newNotificationCmd(a))
	cmd.AddCommand(newStatsCmd(a))

	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		a.cfg.ConfigPath = path
	}
	if noPrompt, _ := cmd.Flags().GetBool("no-prompt"); noPrompt {
		a.cfg.NoPrompt = true
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		a.cfg.Verbose = true
	}
	utils.SetVerboseMode(a.cfg.Verbose)

	conf, err := config.Load(a.cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.conf = conf
	return nil
}

func (a *app) configPath() string {
	if a.cfg.ConfigPath != "" {
		return a.cfg.ConfigPath
	}
	return config.DefaultPath()
}

// stdin returns the prompt input. Piped input is read a byte at a time so
// consecutive prompts each get their own line.
func (a *app) stdin() io.Reader {
	if a.in != nil {
		return a.in
	}
	var r io.Reader = os.Stdin
	if a.cfg.Stdin != nil {
		r = a.cfg.Stdin
	}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		a.in = f
	} else {
		a.in = byteReader{r}
	}
	return a.in
}

type byteReader struct {
	r io.Reader
}

func (b byteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return b.r.Read(p)
}

func (a *app) openStore() (backend.Store, error) {
	return backend.Open(a.conf.Storage.Backend, a.conf.Storage.Path)
}

func (a *app) engine() engine.Engine {
	if a.cfg.Engine != nil {
		return a.cfg.Engine
	}
	return engine.NewClient(engine.ClientConfig{
		Endpoint: a.conf.Engine.Endpoint,
		Timeout:  a.conf.EngineTimeout(),
	})
}

func (a *app) credentials() *credentials.Manager {
	var opts []credentials.ManagerOption
	if a.cfg.Keyring != nil {
		opts = append(opts, credentials.WithKeyring(a.cfg.Keyring))
	}
	if a.cfg.Getenv != nil {
		opts = append(opts, credentials.WithEnv(a.cfg.Getenv))
	}
	return credentials.NewManager(opts...)
}

func (a *app) daemonConfig() *daemon.Config {
	dc := daemon.ConfigFrom(a.conf, a.cfg.ConfigPath)
	dc.Executable = a.cfg.Executable
	return dc
}

func (a *app) daemonRunning() bool {
	dc := a.daemonConfig()
	return daemon.IsRunning(dc.PIDPath, dc.SocketPath)
}

// service returns the daemon when it runs, otherwise direct store access.
// close must be called when the command is done.
func (a *app) service(ctx context.Context) (svc service, close func(), err error) {
	if a.daemonRunning() {
		utils.Debugf("routing through daemon at %s", a.daemonConfig().SocketPath)
		return &remoteService{client: daemon.NewClient(a.daemonConfig().SocketPath)}, func() {}, nil
	}

	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	mgr := runner.NewManager(ctx, store, a.engine(), runner.Options{})
	local := &localService{app: a, mgr: mgr}
	return local, func() {
		mgr.Wait()
		_ = store.Close()
	}, nil
}

func (a *app) jsonOutput(cmd *cobra.Command) bool {
	if j, _ := cmd.Flags().GetBool("json"); j {
		return true
	}
	return a.conf != nil && a.conf.OutputFormat == "json"
}

// result prints a result code in no-prompt mode.
func (a *app) result(code string) {
	if a.cfg.NoPrompt {
		_, _ = fmt.Fprintln(a.stdout, code)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

type listResponse struct {
	Tasks  []runner.TaskStatus `json:"tasks"`
	Count  int                 `json:"count"`
	Result string              `json:"result"`
}

type actionResponse struct {
	Action string        `json:"action"`
	Task   *backend.Task `json:"task,omitempty"`
	Result string        `json:"result"`
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(data))
	return nil
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	_ = writeJSON(stdout, errorResponse{Error: err.Error(), Code: 1, Result: ResultError})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
