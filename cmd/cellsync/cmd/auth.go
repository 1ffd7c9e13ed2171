package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cellsync/internal/credentials"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the storage service",
		Long: `Authenticate with the storage service through the sync engine.
The secret is kept in the system keyring; server and username are saved in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			server, _ := cmd.Flags().GetString("server")
			username, _ := cmd.Flags().GetString("username")
			return a.doLogin(ctx, server, username)
		},
	}
	cmd.Flags().StringP("server", "s", "", "Storage service URL (default: server.url from config)")
	cmd.Flags().StringP("username", "u", "", "Account name (default: server.username from config)")
	return cmd
}

func (a *app) doLogin(ctx context.Context, server, username string) error {
	var err error
	if server == "" {
		server = a.conf.Server.URL
	}
	if server == "" {
		if a.cfg.NoPrompt {
			return utils.WrapWithSuggestion(fmt.Errorf("no server URL"), "Pass --server or set server.url in the config file")
		}
		if server, err = utils.ReadString("Server URL: ", a.stdin(), a.stdout); err != nil {
			return err
		}
	}
	if username == "" {
		username = a.conf.Server.Username
	}
	if username == "" {
		if a.cfg.NoPrompt {
			return utils.WrapWithSuggestion(fmt.Errorf("no username"), "Pass --username or set server.username in the config file")
		}
		if username, err = utils.ReadString("Username: ", a.stdin(), a.stdout); err != nil {
			return err
		}
	}
	server = strings.TrimRight(strings.TrimSpace(server), "/")

	creds := a.credentials()
	var secret string
	if a.cfg.NoPrompt {
		info, err := creds.Get(ctx, server, username)
		if err != nil {
			return err
		}
		if !info.Found {
			return utils.ErrCredentialsNotFound(server, username)
		}
		secret = info.Password
	} else {
		if secret, err = credentials.PromptPassword(a.stdin(), a.stdout, server, username); err != nil {
			return err
		}
	}

	user, err := a.engine().Login(ctx, server, username, secret)
	if err != nil {
		return a.loginError(server, err)
	}

	if err := creds.Set(ctx, server, username, secret); err != nil {
		utils.Warnf("could not store the secret in the keyring: %v", err)
	}
	a.conf.Server.URL = server
	a.conf.Server.Username = username
	if err := a.conf.Save(a.configPath()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	name := user.DisplayName
	if name == "" {
		name = username
	}
	_, _ = fmt.Fprintf(a.stdout, "Logged in to %s as %s\n", server, name)
	a.result(ResultActionCompleted)
	return nil
}

func (a *app) loginError(server string, err error) error {
	switch {
	case engine.IsRejected(err):
		return utils.ErrAuthenticationFailed(server, engine.Message(err))
	case engine.IsUnreachable(err):
		return utils.ErrEngineUnreachable(a.conf.Engine.Endpoint, err.Error())
	}
	return err
}

// loginStored authenticates the engine with the saved credentials, if any.
func (a *app) loginStored(ctx context.Context, eng engine.Engine) error {
	server, username := a.conf.Server.URL, a.conf.Server.Username
	if server == "" || username == "" {
		return nil
	}
	info, err := a.credentials().Get(ctx, server, username)
	if err != nil {
		return err
	}
	if !info.Found {
		return utils.ErrCredentialsNotFound(server, username)
	}
	if _, err := eng.Login(ctx, server, username, info.Password); err != nil {
		return a.loginError(server, err)
	}
	utils.Debugf("logged in to %s as %s (%s)", server, username, info.Source)
	return nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored storage service credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			server, username := a.conf.Server.URL, a.conf.Server.Username
			if username == "" {
				_, _ = fmt.Fprintln(a.stdout, "Not logged in")
				a.result(ResultInfoOnly)
				return nil
			}
			if err := a.credentials().Delete(ctx, server, username); err != nil {
				return err
			}
			a.conf.Server.Username = ""
			if err := a.conf.Save(a.configPath()); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			_, _ = fmt.Fprintf(a.stdout, "Logged out %s from %s\n", username, server)
			a.result(ResultActionCompleted)
			return nil
		},
	}
}
