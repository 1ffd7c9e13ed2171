package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cellsync/backend"
	"cellsync/internal/cache"
	"cellsync/internal/config"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

func newRemoteCmd(a *app) *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Browse the remote storage",
	}
	remoteCmd.AddCommand(newRemoteLsCmd(a))
	return remoteCmd
}

func newRemoteLsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List remote directories",
		Long:  "List the directories under a remote path, or the workspaces when no path is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotePath := ""
			if len(args) == 1 {
				remotePath = args[0]
			}
			refresh, _ := cmd.Flags().GetBool("refresh")

			b, err := a.newBrowser(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			nodes, err := b.list(cmd.Context(), remotePath)
			if err != nil {
				return err
			}

			if a.jsonOutput(cmd) {
				if nodes == nil {
					nodes = []backend.RemoteNode{}
				}
				return writeJSON(a.stdout, struct {
					Path   string               `json:"path"`
					Nodes  []backend.RemoteNode `json:"nodes"`
					Result string               `json:"result"`
				}{remotePath, nodes, ResultInfoOnly})
			}
			if len(nodes) == 0 {
				_, _ = fmt.Fprintln(a.stdout, "No directories")
			}
			for _, n := range nodes {
				_, _ = fmt.Fprintln(a.stdout, nodeLine(n))
			}
			a.result(ResultInfoOnly)
			return nil
		},
	}
	cmd.Flags().Bool("refresh", false, "Ignore cached listings")
	return cmd
}

func nodeLine(n backend.RemoteNode) string {
	name := n.DisplayName()
	if name == "" || name == nodePath(n) {
		return nodePath(n)
	}
	return fmt.Sprintf("%-40s %s", nodePath(n), name)
}

func nodePath(n backend.RemoteNode) string {
	return strings.TrimSuffix(n.Path, "/")
}

// browser lists remote directories through the engine, with a disk cache
// in front of it.
type browser struct {
	eng   engine.Engine
	cache *cache.Store
}

func (a *app) newBrowser(ctx context.Context, refresh bool) (*browser, error) {
	eng := a.engine()
	if err := a.loginStored(ctx, eng); err != nil {
		return nil, err
	}
	store := cache.New(filepath.Join(config.GetCacheDir(), "remote.json"),
		a.conf.Server.URL, a.conf.RemoteCacheTTL(), nil)
	if refresh {
		if err := store.Invalidate(); err != nil {
			utils.Debugf("invalidate remote cache: %v", err)
		}
	}
	return &browser{eng: eng, cache: store}, nil
}

func (b *browser) list(ctx context.Context, remotePath string) ([]backend.RemoteNode, error) {
	if nodes, ok := b.cache.Get(remotePath); ok {
		utils.Debugf("remote listing of %q from cache", remotePath)
		return nodes, nil
	}
	nodes, err := b.eng.List(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if err := b.cache.Put(remotePath, nodes); err != nil {
		utils.Debugf("cache remote listing: %v", err)
	}
	return nodes, nil
}

type pickChoice struct {
	label string
	node  backend.RemoteNode
	use   bool
}

// pickRemote lets the user walk the remote tree from start and choose a
// directory.
func (a *app) pickRemote(ctx context.Context, start string) (backend.RemoteNode, error) {
	if a.cfg.NoPrompt {
		return backend.RemoteNode{}, utils.WrapWithSuggestion(errors.New("--pick needs an interactive terminal"),
			"Pass the remote directory with --remote instead")
	}
	b, err := a.newBrowser(ctx, false)
	if err != nil {
		return backend.RemoteNode{}, err
	}

	current := backend.RemoteNode{Path: start}
	for {
		nodes, err := b.list(ctx, current.Path)
		if err != nil {
			return backend.RemoteNode{}, err
		}

		var choices []pickChoice
		if current.Path != "" {
			choices = append(choices, pickChoice{label: "Use " + current.Path, node: current, use: true})
		}
		for _, n := range nodes {
			choices = append(choices, pickChoice{label: nodeLine(n), node: n})
		}
		if len(choices) == 0 {
			return backend.RemoteNode{}, fmt.Errorf("no remote directories under %q", current.Path)
		}

		where := current.Path
		if where == "" {
			where = "/"
		}
		_, _ = fmt.Fprintf(a.stdout, "\n%s\n", where)
		idx, err := utils.PromptSelection(choices, "Select a directory", a.stdin(), a.stdout, func(i int, c pickChoice) {
			_, _ = fmt.Fprintf(a.stdout, "  %d. %s\n", i+1, c.label)
		})
		if err != nil {
			return backend.RemoteNode{}, err
		}
		if choices[idx].use {
			return choices[idx].node, nil
		}
		current = choices[idx].node
	}
}
