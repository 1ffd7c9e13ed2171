package utils

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  n  \n", false},
		{"maybe\nyes\n", true},
		{"", false},
	}
	for _, tt := range tests {
		var out strings.Builder
		if got := PromptYesNo("Delete task?", strings.NewReader(tt.input), &out); got != tt.want {
			t.Errorf("PromptYesNo(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Delete task? (y/n)") {
			t.Errorf("prompt not shown: %q", out.String())
		}
	}
}

func TestPromptSelection(t *testing.T) {
	items := []string{"docs", "music", "photos"}
	display := func(i int, s string) {}

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr error
	}{
		{"first", "1\n", 0, nil},
		{"last", "3\n", 2, nil},
		{"retry after junk", "abc\n9\n2\n", 1, nil},
		{"cancel", "0\n", -1, ErrSelectionCancelled},
		{"eof", "", -1, ErrSelectionCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			got, err := PromptSelection(items, "Pick", strings.NewReader(tt.input), &out, display)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("index = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPromptSelectionDisplaysItems(t *testing.T) {
	var out strings.Builder
	_, _ = PromptSelection([]string{"a", "b"}, "Pick", strings.NewReader("1\n"), &out, func(i int, s string) {
		_, _ = fmt.Fprintf(&out, "%d) %s\n", i+1, s)
	})
	if !strings.Contains(out.String(), "1) a\n2) b\n") {
		t.Errorf("items not displayed: %q", out.String())
	}
}

func TestReadString(t *testing.T) {
	var out strings.Builder
	got, err := ReadString("Username: ", strings.NewReader("  ada  \n"), &out)
	if err != nil || got != "ada" {
		t.Errorf("ReadString = %q, %v", got, err)
	}
	if out.String() != "Username: " {
		t.Errorf("prompt = %q", out.String())
	}
	if _, err := ReadString("", strings.NewReader(""), &out); err == nil {
		t.Error("expected error on empty input")
	}
}
