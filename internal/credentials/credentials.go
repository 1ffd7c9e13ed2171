// Package credentials stores the storage service secret in the OS keyring,
// with an environment variable fallback for headless hosts.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"golang.org/x/term"
)

// Environment variables consulted when the keyring has no entry.
const (
	EnvPassword = "CELLSYNC_PASSWORD"
	EnvUsername = "CELLSYNC_USERNAME"
)

// Source indicates where credentials were retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// ErrKeyringNotAvailable is returned when the platform has no usable keyring.
var ErrKeyringNotAvailable = errors.New("system keyring not available")

// CredentialInfo contains credential information returned by Get()
type CredentialInfo struct {
	Source   Source
	Server   string
	Username string
	Password string
	Found    bool
}

// JSON serializes the credential info to JSON (password excluded for security)
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Server   string `json:"server"`
		Username string `json:"username"`
		Source   string `json:"source"`
		Found    bool   `json:"found"`
	}{
		Server:   c.Server,
		Username: c.Username,
		Source:   string(c.Source),
		Found:    c.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
	getenv  func(string) string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithEnv replaces os.Getenv, mostly for tests
func WithEnv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// serviceName returns the keyring service name for a server URL
func serviceName(server string) string {
	host := strings.ToLower(strings.TrimSpace(server))
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Host
	}
	return "cellsync:" + host
}

// Set stores the secret for username on server
func (m *Manager) Set(ctx context.Context, server, username, password string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	return m.keyring.Set(serviceName(server), username, password)
}

// Get retrieves credentials, keyring first, then environment
func (m *Manager) Get(ctx context.Context, server, username string) (*CredentialInfo, error) {
	info := &CredentialInfo{Source: SourceNone, Server: server, Username: username}

	password, err := m.keyring.Get(serviceName(server), username)
	if err == nil && password != "" {
		info.Source, info.Password, info.Found = SourceKeyring, password, true
		return info, nil
	}

	if envPassword := m.getenv(EnvPassword); envPassword != "" {
		envUser := m.getenv(EnvUsername)
		if envUser == "" || envUser == username {
			info.Source, info.Password, info.Found = SourceEnvironment, envPassword, true
		}
	}
	return info, nil
}

// Delete removes credentials from the keyring. Deleting absent credentials is not an error.
func (m *Manager) Delete(ctx context.Context, server, username string) error {
	err := m.keyring.Delete(serviceName(server), username)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// PromptPassword asks for a secret. On a terminal the input is hidden;
// otherwise one line is read from reader.
func PromptPassword(reader io.Reader, writer io.Writer, server, username string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Password for %s on %s: ", username, server)

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
