package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestSystemKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()
	k := &systemKeyring{}

	if err := k.Set("cellsync:cells.example.com", "ada", "s3cret"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := k.Get("cellsync:cells.example.com", "ada")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Get = %q, want s3cret", got)
	}
	if err := k.Delete("cellsync:cells.example.com", "ada"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := k.Get("cellsync:cells.example.com", "ada"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestSystemKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: no session bus"))
	t.Cleanup(keyring.MockInit)

	err := (&systemKeyring{}).Set("svc", "acct", "pw")
	if !errors.Is(err, ErrKeyringNotAvailable) {
		t.Errorf("expected ErrKeyringNotAvailable, got %v", err)
	}
}
