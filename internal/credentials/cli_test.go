package credentials_test

import (
	"os"
	"testing"

	"cellsync/internal/engine"
	"cellsync/internal/engine/enginetest"
	"cellsync/internal/testutil"
)

// =============================================================================
// Login CLI Tests
// =============================================================================

const server = "https://cells.example.com"

type loginCall struct {
	endpoint, username, secret string
}

func recordLogins(cli *testutil.CLITest) *[]loginCall {
	calls := &[]loginCall{}
	cli.Engine().LoginFunc = func(endpoint, username, secret string) (engine.User, error) {
		*calls = append(*calls, loginCall{endpoint, username, secret})
		return engine.User{UUID: "u-1", DisplayName: "Alice A."}, nil
	}
	return calls
}

func TestLoginInteractiveCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	calls := recordLogins(cli)

	cli.SetStdin("s3cret\n")
	out := cli.MustExecute("login", "--server", server+"/", "--username", "alice")
	testutil.AssertContains(t, out, "Password for alice")
	testutil.AssertContains(t, out, "Logged in to "+server+" as Alice A.")

	if len(*calls) != 1 || (*calls)[0] != (loginCall{server, "alice", "s3cret"}) {
		t.Fatalf("engine logins = %+v", *calls)
	}
	if got, err := cli.Keyring().Get("cellsync:cells.example.com", "alice"); err != nil || got != "s3cret" {
		t.Errorf("keyring = %q, %v", got, err)
	}

	data, err := os.ReadFile(cli.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, string(data), "username: alice")
	testutil.AssertContains(t, string(data), "url: "+server)

	out = cli.MustExecute("logout")
	testutil.AssertContains(t, out, "Logged out alice")
	if _, err := cli.Keyring().Get("cellsync:cells.example.com", "alice"); err == nil {
		t.Error("secret still in keyring after logout")
	}
	testutil.AssertContains(t, cli.MustExecute("logout"), "Not logged in")
}

func TestLoginFromEnvironmentCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	calls := recordLogins(cli)
	cli.SetEnv("CELLSYNC_PASSWORD", "from-env")

	out := cli.MustExecute("login", "--server", server, "--username", "bob")
	testutil.AssertResultCode(t, out, testutil.ResultActionCompleted)
	if len(*calls) != 1 || (*calls)[0].secret != "from-env" {
		t.Fatalf("engine logins = %+v", *calls)
	}
}

func TestLoginWithoutCredentialsCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	_, stderr := cli.ExecuteAndFail("login", "--server", server, "--username", "bob")
	testutil.AssertContains(t, stderr, "credentials not found")
	testutil.AssertContains(t, stderr, "CELLSYNC_PASSWORD")

	_, stderr = cli.ExecuteAndFail("login", "--username", "bob")
	testutil.AssertContains(t, stderr, "no server URL")
}

func TestLoginFailuresCLI(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "rejected",
			err:  &engine.Error{Kind: engine.KindRejected, Op: "login", Message: "wrong password"},
			want: []string{"authentication failed for " + server + ": wrong password", "cellsync login"},
		},
		{
			name: "unreachable",
			err:  enginetest.Unreachable("login"),
			want: []string{"is unreachable", "listening on the configured endpoint"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := testutil.NewCLITest(t)
			cli.SetEnv("CELLSYNC_PASSWORD", "pw")
			cli.Engine().LoginFunc = func(string, string, string) (engine.User, error) {
				return engine.User{}, tt.err
			}

			_, stderr := cli.ExecuteAndFail("login", "--server", server, "--username", "carol")
			for _, w := range tt.want {
				testutil.AssertContains(t, stderr, w)
			}
			if _, err := cli.Keyring().Get("cellsync:cells.example.com", "carol"); err == nil {
				t.Error("secret stored after a failed login")
			}
		})
	}
}
