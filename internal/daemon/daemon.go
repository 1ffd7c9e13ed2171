// Package daemon hosts the task runner in a background process. The CLI talks
// to it over a Unix socket so that the daemon stays the only writer of the
// task store while it runs.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"cellsync/backend"
	"cellsync/internal/config"
	"cellsync/internal/runner"
	"cellsync/internal/utils"
)

// Message types understood by the daemon.
const (
	MsgStatus  = "status"
	MsgCreate  = "create"
	MsgEdit    = "edit"
	MsgDelete  = "delete"
	MsgPause   = "pause"
	MsgResume  = "resume"
	MsgIgnores = "ignores"
	MsgStop    = "stop"
)

// Error codes carried in a Response so the client can rebuild typed errors.
const (
	codeNotFound  = "not_found"
	codeAmbiguous = "ambiguous"
	codeInvalid   = "invalid"
)

const ioTimeout = 5 * time.Second

// Config holds daemon paths.
type Config struct {
	PIDPath    string
	SocketPath string
	LogPath    string
	ConfigPath string // forwarded to the forked process
	Executable string // optional, defaults to os.Executable
}

// ConfigFrom builds a daemon Config from the application config.
func ConfigFrom(cfg *config.Config, configPath string) *Config {
	socket := cfg.Daemon.SocketPath
	if socket == "" {
		socket = GetSocketPath()
	}
	return &Config{
		PIDPath:    cfg.Daemon.PIDPath,
		SocketPath: socket,
		LogPath:    cfg.Daemon.LogPath,
		ConfigPath: configPath,
	}
}

// Message is one request from the CLI. Data holds the request payload for the type.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TaskRequest addresses a task by id or id prefix, optionally with a new definition.
type TaskRequest struct {
	Ref        string              `json:"ref,omitempty"`
	Definition *backend.Definition `json:"definition,omitempty"`
}

// IgnoresRequest reads the global ignore list, or replaces it when Patterns is set.
type IgnoresRequest struct {
	Patterns *[]string `json:"patterns,omitempty"`
}

// Response is the daemon's answer.
type Response struct {
	Status   string              `json:"status"` // "ok", "error"
	Message  string              `json:"message,omitempty"`
	Code     string              `json:"code,omitempty"`
	Field    string              `json:"field,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Ref      string              `json:"ref,omitempty"`
	Running  bool                `json:"running"`
	PID      int                 `json:"pid,omitempty"`
	Tasks    []runner.TaskStatus `json:"tasks,omitempty"`
	Progress map[string]float64  `json:"progress,omitempty"`
	Task     *backend.Task       `json:"task,omitempty"`
	Ignores  []string            `json:"ignores,omitempty"`
}

// Service is the task runner the daemon exposes. *runner.Manager implements it.
type Service interface {
	Snapshot(ctx context.Context) ([]runner.TaskStatus, error)
	Create(ctx context.Context, def backend.Definition) (*backend.Task, error)
	Edit(ctx context.Context, id string, def backend.Definition) (*backend.Task, error)
	Delete(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) (*backend.Task, error)
	Pause(ctx context.Context, id string) (*backend.Task, error)
	Resolve(ctx context.Context, ref string) (string, error)
	GlobalIgnores(ctx context.Context) ([]string, error)
	SetGlobalIgnores(ctx context.Context, patterns []string) error
	Board() *runner.Board
}

// Daemon serves IPC requests against a Service.
type Daemon struct {
	cfg      *Config
	service  Service
	listener net.Listener
	conns    sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a daemon for service.
func New(cfg *Config, service Service) *Daemon {
	return &Daemon{
		cfg:     cfg,
		service: service,
		stop:    make(chan struct{}),
	}
}

// Serve writes the PID file, listens on the socket and handles requests until
// ctx is done or a stop message arrives. Files are removed on return.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.PIDPath), 0700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(d.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(d.cfg.SocketPath), 0700); err != nil {
		_ = os.Remove(d.cfg.PIDPath)
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	_ = os.Remove(d.cfg.SocketPath)

	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		_ = os.Remove(d.cfg.PIDPath)
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	d.listener = listener
	utils.Infof("daemon listening on %s (pid %d)", d.cfg.SocketPath, os.Getpid())

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		d.acceptLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		utils.Infof("daemon stopping: %v", context.Cause(ctx))
	case <-d.stop:
		utils.Infof("daemon stopping: stop requested")
	}

	_ = listener.Close()
	<-accepted
	d.conns.Wait()

	_ = os.Remove(d.cfg.SocketPath)
	_ = os.Remove(d.cfg.PIDPath)
	return nil
}

// Stop makes Serve return. It may be called more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			utils.Warnf("accept: %v", err)
			continue
		}
		d.conns.Add(1)
		go func() {
			defer d.conns.Done()
			d.handleConnection(ctx, conn)
		}()
	}
}

func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	var msg Message
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}

	resp := d.handle(ctx, msg)
	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	_ = json.NewEncoder(conn).Encode(resp)

	if msg.Type == MsgStop {
		d.Stop()
	}
}

func (d *Daemon) handle(ctx context.Context, msg Message) Response {
	utils.Debugf("ipc %s", msg.Type)

	switch msg.Type {
	case MsgStatus:
		tasks, err := d.service.Snapshot(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return Response{
			Status:   "ok",
			Running:  true,
			PID:      os.Getpid(),
			Tasks:    tasks,
			Progress: d.service.Board().Snapshot(),
		}

	case MsgCreate:
		var req TaskRequest
		if err := decode(msg, &req); err != nil {
			return errorResponse(err)
		}
		if req.Definition == nil {
			return errorResponse(errors.New("create needs a task definition"))
		}
		task, err := d.service.Create(ctx, *req.Definition)
		return taskResponse(task, err)

	case MsgEdit, MsgDelete, MsgPause, MsgResume:
		var req TaskRequest
		if err := decode(msg, &req); err != nil {
			return errorResponse(err)
		}
		id, err := d.service.Resolve(ctx, req.Ref)
		if err != nil {
			return errorResponse(err)
		}
		return d.applyTask(ctx, msg.Type, id, req)

	case MsgIgnores:
		var req IgnoresRequest
		if err := decode(msg, &req); err != nil {
			return errorResponse(err)
		}
		if req.Patterns != nil {
			if err := d.service.SetGlobalIgnores(ctx, *req.Patterns); err != nil {
				return errorResponse(err)
			}
		}
		patterns, err := d.service.GlobalIgnores(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Status: "ok", Running: true, Ignores: patterns}

	case MsgStop:
		return Response{Status: "ok", Running: false}
	}

	return Response{Status: "error", Running: true, Message: "unknown message type: " + msg.Type}
}

func (d *Daemon) applyTask(ctx context.Context, typ, id string, req TaskRequest) Response {
	switch typ {
	case MsgEdit:
		if req.Definition == nil {
			return errorResponse(errors.New("edit needs a task definition"))
		}
		return taskResponse(d.service.Edit(ctx, id, *req.Definition))
	case MsgDelete:
		if err := d.service.Delete(ctx, id); err != nil {
			return errorResponse(err)
		}
		return Response{Status: "ok", Running: true, Message: "deleted " + id}
	case MsgPause:
		return taskResponse(d.service.Pause(ctx, id))
	default:
		return taskResponse(d.service.Resume(ctx, id))
	}
}

func decode(msg Message, v any) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("bad %s request: %w", msg.Type, err)
	}
	return nil
}

func taskResponse(task *backend.Task, err error) Response {
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: "ok", Running: true, Task: task}
}

func errorResponse(err error) Response {
	resp := Response{Status: "error", Running: true, Message: err.Error()}

	var ve *backend.ValidationError
	var ae *backend.AmbiguousRefError
	switch {
	case errors.As(err, &ve):
		resp.Code, resp.Field, resp.Reason = codeInvalid, ve.Field, ve.Reason
	case errors.As(err, &ae):
		resp.Code, resp.Ref = codeAmbiguous, ae.Ref
	case errors.Is(err, backend.ErrTaskNotFound):
		resp.Code = codeNotFound
	}
	return resp
}

// Fork starts `cellsync run` detached from the terminal.
func Fork(cfg *Config) error {
	executable := cfg.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	args := []string{"run"}
	if cfg.ConfigPath != "" {
		args = append([]string{"--config", cfg.ConfigPath}, args...)
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release daemon process: %w", err)
	}
	return nil
}

// WaitRunning polls until the daemon answers or timeout passes.
func WaitRunning(cfg *Config, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if IsRunning(cfg.PIDPath, cfg.SocketPath) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ReadPID returns the pid recorded in the PID file.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// IsRunning checks the PID file and the socket. Stale files of a dead process are removed.
func IsRunning(pidPath, socketPath string) bool {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for existence.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		_ = os.Remove(socketPath)
		return false
	}

	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// GetSocketPath returns the default socket path.
func GetSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "cellsync", "daemon.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("cellsync-%d", os.Getuid()), "daemon.sock")
}
