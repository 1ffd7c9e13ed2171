package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"cellsync/backend"
	"cellsync/internal/runner"
)

// ErrNotRunning is returned when nothing listens on the socket.
var ErrNotRunning = errors.New("daemon is not running")

// Client talks to a running daemon.
type Client struct {
	socketPath string
}

// NewClient creates a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Status returns every task with its runtime state and the progress board.
func (c *Client) Status() (*Response, error) {
	return c.call(MsgStatus, nil)
}

// Tasks returns the task list with runtime state.
func (c *Client) Tasks() ([]runner.TaskStatus, error) {
	resp, err := c.Status()
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Create registers a new, inactive task.
func (c *Client) Create(def backend.Definition) (*backend.Task, error) {
	return c.taskCall(MsgCreate, TaskRequest{Definition: &def})
}

// Edit replaces the definition of the task ref names.
func (c *Client) Edit(ref string, def backend.Definition) (*backend.Task, error) {
	return c.taskCall(MsgEdit, TaskRequest{Ref: ref, Definition: &def})
}

// Delete stops and removes the task ref names.
func (c *Client) Delete(ref string) error {
	_, err := c.call(MsgDelete, TaskRequest{Ref: ref})
	return err
}

// Pause pauses the task ref names.
func (c *Client) Pause(ref string) (*backend.Task, error) {
	return c.taskCall(MsgPause, TaskRequest{Ref: ref})
}

// Resume activates the task ref names and starts its scheduler.
func (c *Client) Resume(ref string) (*backend.Task, error) {
	return c.taskCall(MsgResume, TaskRequest{Ref: ref})
}

// GlobalIgnores returns the global ignore list.
func (c *Client) GlobalIgnores() ([]string, error) {
	resp, err := c.call(MsgIgnores, IgnoresRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Ignores, nil
}

// SetGlobalIgnores replaces the global ignore list and returns the stored form.
func (c *Client) SetGlobalIgnores(patterns []string) ([]string, error) {
	if patterns == nil {
		patterns = []string{}
	}
	resp, err := c.call(MsgIgnores, IgnoresRequest{Patterns: &patterns})
	if err != nil {
		return nil, err
	}
	return resp.Ignores, nil
}

// Stop asks the daemon to exit and waits for its acknowledgement.
func (c *Client) Stop() error {
	_, err := c.call(MsgStop, nil)
	return err
}

func (c *Client) taskCall(typ string, req TaskRequest) (*backend.Task, error) {
	resp, err := c.call(typ, req)
	if err != nil {
		return nil, err
	}
	if resp.Task == nil {
		return nil, fmt.Errorf("daemon %s: response carries no task", typ)
	}
	return resp.Task, nil
}

func (c *Client) call(typ string, payload any) (*Response, error) {
	msg := Message{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}

	conn, err := net.DialTimeout("unix", c.socketPath, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, responseError(&resp)
	}
	return &resp, nil
}

// remoteError keeps the daemon's message while matching a local sentinel.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }

func responseError(resp *Response) error {
	switch resp.Code {
	case codeInvalid:
		return &backend.ValidationError{Field: resp.Field, Reason: resp.Reason}
	case codeAmbiguous:
		return &backend.AmbiguousRefError{Ref: resp.Ref}
	case codeNotFound:
		return &remoteError{msg: resp.Message, err: backend.ErrTaskNotFound}
	}
	if resp.Message == "" {
		return errors.New("daemon returned an error")
	}
	return errors.New(resp.Message)
}
