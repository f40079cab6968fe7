package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zextras/reposync/internal/config"
	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/statestore"
)

var syncRepo string

// newSyncCmd runs one synchronous Executor pass per selected repository
// and exits (as distinct from `server`, which schedules runs
// continuously).
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <config-file>",
		Short: "Run one sync pass for one or all configured repositories",
		Args:  cobra.ExactArgs(1),
		RunE:  syncRun,
	}
	cmd.Flags().StringVar(&syncRepo, "repo", "", "sync only the named repository (default: all)")
	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(args); err != nil {
		return err
	}

	repos, err := selectRepos(globalCfg, syncRepo)
	if err != nil {
		return err
	}

	store, err := statestore.New(dbPath(globalCfg.General), logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	fetcher := fetch.NewHTTPFetcher(logger)
	ctx := context.Background()

	failed := 0
	for _, repo := range repos {
		fmt.Printf("syncing %s...\n", repo.Name)
		lastResult, size, packages, err := runRepoSync(ctx, globalCfg.General, repo, store, fetcher)
		if err != nil {
			fmt.Printf("  FAILED: %v\n", err)
			failed++
			continue
		}
		fmt.Printf("  %s (packages=%d, size=%s)\n", lastResult, packages, humanize.Bytes(uint64(size)))
	}

	if failed > 0 {
		return fmt.Errorf("sync completed with %d failed repositories", failed)
	}
	return nil
}

// selectRepos resolves the --repo flag against the configured
// repositories: empty or the reserved name "all" (which the config layer
// forbids as an actual repository name) selects every repository.
func selectRepos(cfg *config.Config, name string) ([]config.RepoConfig, error) {
	if name == "" || name == "all" {
		return cfg.Repo, nil
	}
	for _, r := range cfg.Repo {
		if r.Name == name {
			return []config.RepoConfig{r}, nil
		}
	}
	return nil, fmt.Errorf("no repository named %q in config", name)
}

func dbPath(general config.GeneralConfig) string {
	if general.DataPath == "" {
		return "reposync.db"
	}
	return general.DataPath + "/reposync.db"
}
