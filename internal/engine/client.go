package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cellsync/backend"
	"cellsync/internal/ratelimit"
	"cellsync/internal/utils"
)

// DefaultTimeout bounds a single engine command.
const DefaultTimeout = 30 * time.Second

// ClientConfig configures the HTTP engine client.
type ClientConfig struct {
	Endpoint string        // base URL of the engine, e.g. http://127.0.0.1:5174
	Timeout  time.Duration // per-command timeout, DefaultTimeout when zero
	Token    string        // optional bearer token
}

// Client implements Engine over JSON/HTTP: every command is
// POST {endpoint}/{command} answering {success, data, message}.
type Client struct {
	endpoint string
	http     *ratelimit.Client
}

// NewClient creates an engine client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http: ratelimit.NewClient(ratelimit.Config{
			Timeout:      timeout,
			Header:       header,
			EnableJitter: true,
			Service:      "sync engine",
			OnRetry: func(status int, delay time.Duration) {
				utils.Debugf("engine busy (HTTP %d), retrying in %s", status, delay)
			},
		}),
	}
}

// call posts a command and decodes the envelope's data into out (which may be nil).
func (c *Client) call(ctx context.Context, op string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindMalformed, Op: op, Err: err}
	}
	utils.Debugf("engine %s: %s", op, payload)

	resp, err := c.http.Do(ctx, http.MethodPost, c.endpoint+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: KindUnreachable, Op: op, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Kind: KindMalformed, Op: op, Err: err}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "command refused"
		}
		return &Error{Kind: KindRejected, Op: op, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		if out != nil {
			return &Error{Kind: KindMalformed, Op: op, Message: "response carries no data"}
		}
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Kind: KindMalformed, Op: op, Err: err}
	}
	return nil
}

// Login authenticates the engine against the storage service.
func (c *Client) Login(ctx context.Context, endpoint, username, secret string) (User, error) {
	var data struct {
		UUID       string `json:"Uuid"`
		Attributes struct {
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
		} `json:"Attributes"`
	}
	err := c.call(ctx, "login", map[string]string{
		"endpoint": endpoint,
		"username": username,
		"password": secret,
	}, &data)
	if err != nil {
		return User{}, err
	}
	return User{UUID: data.UUID, DisplayName: data.Attributes.DisplayName, Email: data.Attributes.Email}, nil
}

// List returns the children of a remote directory.
func (c *Client) List(ctx context.Context, remotePath string) ([]backend.RemoteNode, error) {
	if len(remotePath) > 1 {
		remotePath = strings.TrimSuffix(remotePath, "/")
	}
	var data struct {
		Nodes []wireNode `json:"Nodes"`
	}
	if err := c.call(ctx, "list", map[string]string{"p": remotePath}, &data); err != nil {
		return nil, err
	}
	nodes := make([]backend.RemoteNode, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		nodes = append(nodes, fromWireNode(n))
	}
	return nodes, nil
}

// Sync asks the engine to run one pass of task.
func (c *Client) Sync(ctx context.Context, task backend.Task, globalIgnores []string) error {
	if globalIgnores == nil {
		globalIgnores = []string{}
	}
	return c.call(ctx, "sync", struct {
		Task    wireTask `json:"task"`
		Ignores []string `json:"ignores"`
	}{toWireTask(task), globalIgnores}, nil)
}

// Pause asks the engine to halt work on a task.
func (c *Client) Pause(ctx context.Context, taskID string) error {
	return c.call(ctx, "pause", map[string]string{"uuid": taskID}, nil)
}

// Progress returns the counters of the task's current pass.
func (c *Client) Progress(ctx context.Context, taskID string) (Counters, error) {
	var counters Counters
	err := c.call(ctx, "progress", map[string]string{"uuid": taskID}, &counters)
	return counters, err
}
