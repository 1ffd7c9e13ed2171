// Package testutil provides shared test utilities for CLI testing across packages.
// This enables co-located CLI tests while maintaining consistent test infrastructure.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cellsync/cmd/cellsync/cmd"
	"cellsync/internal/credentials"
	"cellsync/internal/daemon"
	"cellsync/internal/engine/enginetest"
)

// testConfig isolates every path a command touches inside the test directories.
const testConfig = `engine:
  endpoint: http://127.0.0.1:1
  timeout: 2s
storage:
  backend: %s
  path: %s
daemon:
  socket_path: %s
  pid_path: %s
  log_path: %s
  poll_interval_ms: 20
notification:
  enabled: false
  log_notification:
    enabled: true
    path: %s
logging:
  background_enabled: false
remote_cache:
  ttl: 5m
`

// CLITest provides a test helper for running CLI commands in isolation.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	runDir     string
	configPath string
	engine     *enginetest.Fake
	keyring    *credentials.MockKeyring
	env        map[string]string
}

// NewCLITest creates a CLI test helper backed by a sqlite store in a temp directory.
func NewCLITest(t *testing.T) *CLITest {
	return newCLITest(t, "sqlite", "tasks.db")
}

// NewCLITestWithFileStore creates a CLI test helper backed by the JSON file store.
func NewCLITestWithFileStore(t *testing.T) *CLITest {
	return newCLITest(t, "file", "tasks.json")
}

func newCLITest(t *testing.T, storeBackend, storeFile string) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	// Unix socket paths are length-limited, so the socket gets a short directory.
	runDir, err := os.MkdirTemp("", "cst")
	if err != nil {
		t.Fatalf("failed to create runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runDir) })

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv("XDG_RUNTIME_DIR", runDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := fmt.Sprintf(testConfig,
		storeBackend,
		filepath.Join(tmpDir, storeFile),
		filepath.Join(runDir, "d.sock"),
		filepath.Join(tmpDir, "daemon.pid"),
		filepath.Join(tmpDir, "daemon.log"),
		filepath.Join(tmpDir, "notifications.log"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}

	c := &CLITest{
		t:          t,
		tmpDir:     tmpDir,
		runDir:     runDir,
		configPath: configPath,
		engine:     enginetest.New(),
		keyring:    credentials.NewMockKeyring(),
		env:        map[string]string{},
	}
	c.cfg = &cmd.Config{
		NoPrompt:   true,
		ConfigPath: configPath,
		Engine:     c.engine,
		Keyring:    c.keyring,
		Getenv:     func(key string) string { return c.env[key] },
		NoFork:     true,
	}
	return c
}

// Config returns the test configuration.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// ConfigPath returns the path to the config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// Engine returns the fake engine every command talks to.
func (c *CLITest) Engine() *enginetest.Fake {
	return c.engine
}

// Keyring returns the in-memory keyring.
func (c *CLITest) Keyring() *credentials.MockKeyring {
	return c.keyring
}

// SetEnv sets a variable seen by the credential lookup.
func (c *CLITest) SetEnv(key, value string) {
	c.env[key] = value
}

// SetStdin makes the following commands interactive, reading input from s.
func (c *CLITest) SetStdin(s string) {
	c.cfg.NoPrompt = false
	c.cfg.Stdin = strings.NewReader(s)
}

// AppendConfig adds raw YAML to the end of the config file.
func (c *CLITest) AppendConfig(yamlContent string) {
	c.t.Helper()
	f, err := os.OpenFile(c.configPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		c.t.Fatalf("failed to open config file: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(yamlContent); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// CreateTask creates a task through the CLI and returns its id.
func (c *CLITest) CreateTask(local, remote, every string) string {
	c.t.Helper()
	out := c.MustExecute("--json", "task", "create", "--local", local, "--remote", remote, "--every", every)
	id := jsonField(out, `"id":"`)
	if id == "" {
		c.t.Fatalf("no task id in output: %s", out)
	}
	return id
}

func jsonField(out, prefix string) string {
	i := strings.Index(out, prefix)
	if i < 0 {
		return ""
	}
	rest := out[i+len(prefix):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		return rest[:j]
	}
	return ""
}

// DaemonCLITest extends CLITest with an in-process daemon.
type DaemonCLITest struct {
	*CLITest
	done   chan struct{}
	stdout bytes.Buffer
	stderr bytes.Buffer
	mu     sync.Mutex
	code   int
}

// NewCLITestWithDaemon creates a CLI test helper whose daemon runs `cellsync run`
// in a goroutine. Call StartDaemon to launch it.
func NewCLITestWithDaemon(t *testing.T) *DaemonCLITest {
	t.Helper()
	return &DaemonCLITest{CLITest: NewCLITest(t)}
}

// DaemonConfig returns the daemon paths the commands use.
func (d *DaemonCLITest) DaemonConfig() *daemon.Config {
	return &daemon.Config{
		PIDPath:    filepath.Join(d.tmpDir, "daemon.pid"),
		SocketPath: filepath.Join(d.runDir, "d.sock"),
		LogPath:    filepath.Join(d.tmpDir, "daemon.log"),
	}
}

// StartDaemon runs the daemon and waits until it answers. The daemon is
// stopped when the test ends.
func (d *DaemonCLITest) StartDaemon() {
	d.t.Helper()

	runCfg := *d.cfg
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		code := cmd.Execute([]string{"run"}, &d.stdout, &d.stderr, &runCfg)
		d.mu.Lock()
		d.code = code
		d.mu.Unlock()
	}()

	if !daemon.WaitRunning(d.DaemonConfig(), 5*time.Second) {
		d.t.Fatalf("daemon did not start")
	}
	d.t.Cleanup(d.StopDaemon)
}

// StopDaemon stops a running daemon and waits for `run` to return.
func (d *DaemonCLITest) StopDaemon() {
	d.t.Helper()
	if d.done == nil {
		return
	}
	select {
	case <-d.done:
		return
	default:
	}
	d.MustExecute("daemon", "stop")
	d.WaitExit()
}

// WaitExit waits for `run` to return and reports its exit code.
func (d *DaemonCLITest) WaitExit() int {
	d.t.Helper()
	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
		d.t.Fatalf("daemon did not exit")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertExitCode fails the test if exit code doesn't match expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}

// AssertResultCode verifies that the output ends with the expected result code.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		t.Errorf("expected result code %q but output is empty", expectedCode)
		return
	}
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}

// Result code constants for convenience.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)
