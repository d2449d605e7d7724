package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/toolset"
)

var toolsetsCmd = &cobra.Command{
	Use:   "toolsets",
	Short: "List toolsets and their enablement state",
	Long: `List every toolset in the merged registry with its origin, state and
tool count. Disabled toolsets show the reason, so a failing prerequisite
or an unreachable remote server is visible without reading logs.

With --watch the command keeps running and re-prints the table whenever
a custom catalog file changes on disk.`,
	RunE: runToolsets,
}

var toolsetsWatch bool

func init() {
	rootCmd.AddCommand(toolsetsCmd)

	toolsetsCmd.Flags().BoolVarP(&toolsetsWatch, "watch", "w", false,
		"Watch custom catalog files and re-print on change")
}

func runToolsets(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	load := func() (*toolset.Registry, error) {
		return toolset.Load(toolset.Sources{
			CatalogPaths:  cfg.Catalogs,
			RemoteServers: cfg.RemoteServers,
		}, Version)
	}

	registry, err := load()
	if err != nil {
		return err
	}
	printToolsets(registry)

	if !toolsetsWatch {
		return nil
	}
	if len(cfg.Catalogs) == 0 {
		return fmt.Errorf("--watch requires at least one custom catalog in the config")
	}

	logger := logging.GetLogger("commands.toolsets")
	watcher, err := config.NewCatalogWatcher(cfg.Catalogs, 500*time.Millisecond, func(path string) error {
		reloaded, err := load()
		if err != nil {
			return fmt.Errorf("reload after change to %s: %w", path, err)
		}
		fmt.Printf("\n-- catalog changed: %s --\n", path)
		printToolsets(reloaded)
		return nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	logger.Info("watching %d catalog path(s), ctrl-c to stop", len(cfg.Catalogs))
	<-sigCh
	watcher.Stop()
	return nil
}

func printToolsets(registry *toolset.Registry) {
	toolsets := registry.Toolsets()
	sort.Slice(toolsets, func(i, j int) bool { return toolsets[i].Name < toolsets[j].Name })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tORIGIN\tSTATE\tTOOLS\tDESCRIPTION")
	for _, ts := range toolsets {
		state := "enabled"
		if !ts.Enabled {
			state = "disabled"
			if ts.DisabledReason != "" {
				state = "disabled: " + ts.DisabledReason
			}
		}
		tools := fmt.Sprintf("%d", len(ts.Tools))
		if ts.Origin == toolset.OriginRemote {
			tools = "remote"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ts.Name, ts.Origin, state, tools, ts.Description)
	}
	w.Flush()
}
