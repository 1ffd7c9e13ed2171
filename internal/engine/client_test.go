package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"cellsync/backend"
)

// engineServer records the last request per command and answers with the given raw bodies.
type engineServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]map[string]any
	replies  map[string]string
}

func newEngineServer(t *testing.T, replies map[string]string) *engineServer {
	t.Helper()
	s := &engineServer{requests: map[string]map[string]any{}, replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := strings.TrimPrefix(r.URL.Path, "/")
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)
		s.mu.Lock()
		s.requests[op] = decoded
		s.mu.Unlock()

		reply, ok := s.replies[op]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *engineServer) request(op string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[op]
}

func sampleTask() backend.Task {
	return backend.Task{
		ID:        "3f1c9a2e-0000-4000-8000-000000000001",
		LocalPath: "/home/u/Documents",
		Remote: backend.RemoteNode{
			UUID: "node-1", Path: "personal-files/docs", Type: "COLLECTION", ETag: "e1",
			Meta: backend.NodeMeta{Label: "Docs", Syncable: true},
		},
		Ignores:  []string{"*.tmp"},
		Active:   true,
		Interval: 5,
		Unit:     backend.UnitMinute,
	}
}

func TestSyncSendsWireTask(t *testing.T) {
	srv := newEngineServer(t, map[string]string{"sync": `{"success":true,"data":null,"message":""}`})
	c := NewClient(ClientConfig{Endpoint: srv.URL + "/"})

	if err := c.Sync(context.Background(), sampleTask(), []string{".DS_Store"}); err != nil {
		t.Fatalf("Sync error: %v", err)
	}

	got := srv.request("sync")
	want := map[string]any{
		"ignores": []any{".DS_Store"},
		"task": map[string]any{
			"uuid":     "3f1c9a2e-0000-4000-8000-000000000001",
			"localDir": "/home/u/Documents",
			"ignores":  []any{"*.tmp"},
			"remoteDir": map[string]any{
				"Uuid": "node-1", "Path": "personal-files/docs", "Type": "COLLECTION", "Etag": "e1",
				"MetaStore": map[string]any{"ws_label": "Docs", "ws_syncable": true, "name": ""},
			},
			"paused":             false,
			"repeatInterval":     float64(5),
			"repeatIntervalUnit": map[string]any{"name": "minute", "level": float64(60)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sync body mismatch (-want +got):\n%s", diff)
	}
}

func TestFailureKinds(t *testing.T) {
	srv := newEngineServer(t, map[string]string{
		"pause": `{"success":false,"data":null,"message":"task not running"}`,
		"sync":  `<html>oops</html>`,
	})
	c := NewClient(ClientConfig{Endpoint: srv.URL})
	ctx := context.Background()

	err := c.Pause(ctx, "x")
	if !IsRejected(err) {
		t.Errorf("Pause: expected rejected, got %v", err)
	}
	if Message(err) != "task not running" {
		t.Errorf("Message = %q", Message(err))
	}

	if err := c.Sync(ctx, sampleTask(), nil); !IsMalformed(err) {
		t.Errorf("Sync: expected malformed, got %v", err)
	}

	// no handler for progress: HTTP 404
	if _, err := c.Progress(ctx, "x"); !IsUnreachable(err) {
		t.Errorf("Progress: expected unreachable, got %v", err)
	}
}

func TestUnreachableWhenDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{Endpoint: url, Timeout: time.Second})
	err := c.Pause(context.Background(), "x")
	if !IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	var engErr *Error
	if !errors.As(err, &engErr) || engErr.Op != "pause" {
		t.Errorf("expected *Error for pause, got %#v", err)
	}
}

func TestListTrimsSlashAndDecodesNodes(t *testing.T) {
	srv := newEngineServer(t, map[string]string{"list": `{"success":true,"message":"","data":{"Nodes":[
		{"Uuid":"a","Path":"personal-files/docs","Type":"COLLECTION","MetaStore":{"ws_syncable":"true","name":"docs"}},
		{"Uuid":"b","Path":"common-files","Type":"COLLECTION","Etag":"z","MetaStore":{"ws_label":"Common","ws_syncable":false}}
	]}}`})
	c := NewClient(ClientConfig{Endpoint: srv.URL})

	nodes, err := c.List(context.Background(), "personal-files/")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if p := srv.request("list")["p"]; p != "personal-files" {
		t.Errorf("list path = %v, want trailing slash trimmed", p)
	}
	want := []backend.RemoteNode{
		{UUID: "a", Path: "personal-files/docs", Type: "COLLECTION", Meta: backend.NodeMeta{Syncable: true, Name: "docs"}},
		{UUID: "b", Path: "common-files", Type: "COLLECTION", ETag: "z", Meta: backend.NodeMeta{Label: "Common"}},
	}
	if diff := cmp.Diff(want, nodes); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestLoginAndProgress(t *testing.T) {
	srv := newEngineServer(t, map[string]string{
		"login":    `{"success":true,"message":"","data":{"Uuid":"u1","Attributes":{"displayName":"Ada","email":"ada@example.com"}}}`,
		"progress": `{"success":true,"message":"","data":{"current":3,"total":8}}`,
	})
	c := NewClient(ClientConfig{Endpoint: srv.URL})
	ctx := context.Background()

	user, err := c.Login(ctx, "https://cells.example.com", "ada", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if user.DisplayName != "Ada" || user.UUID != "u1" {
		t.Errorf("user = %+v", user)
	}
	if srv.request("login")["password"] != "s3cret" {
		t.Errorf("login body = %v", srv.request("login"))
	}

	counters, err := c.Progress(ctx, "t1")
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if counters != (Counters{Current: 3, Total: 8}) {
		t.Errorf("counters = %+v", counters)
	}
}

func TestProgressWithoutDataIsMalformed(t *testing.T) {
	srv := newEngineServer(t, map[string]string{"progress": `{"success":true,"message":""}`})
	c := NewClient(ClientConfig{Endpoint: srv.URL})
	if _, err := c.Progress(context.Background(), "t1"); !IsMalformed(err) {
		t.Errorf("expected malformed, got %v", err)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name    string
		c       Counters
		want    float64
		wantErr bool
	}{
		{"half", Counters{5, 10}, 50, false},
		{"rounded", Counters{1, 3}, 33.33, false},
		{"two thirds", Counters{2, 3}, 66.67, false},
		{"done", Counters{10, 10}, 100, false},
		{"over", Counters{12, 10}, 100, false},
		{"negative", Counters{-1, 10}, 0, false},
		{"zero total", Counters{0, 0}, 0, true},
		{"negative total", Counters{1, -5}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.c.Percent()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Percent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsMalformed(err) {
				t.Errorf("expected malformed error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}
