package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/scheduler"
	"github.com/zextras/reposync/internal/statestore"
	"github.com/zextras/reposync/internal/statusapi"
)

var serveListen string

// newServerCmd starts one scheduler.Repo loop per configured repository
// plus the status HTTP API, running until interrupted: launch in a
// goroutine, wait on a signal channel, shut down gracefully.
func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server <config-file>",
		Short: "Run the scheduler and status API continuously",
		Args:  cobra.ExactArgs(1),
		RunE:  serverRun,
	}
	cmd.Flags().StringVar(&serveListen, "listen", "", "override the general.bind_address from the config file")
	return cmd
}

func serverRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(args); err != nil {
		return err
	}

	listen := globalCfg.General.BindAddress
	if serveListen != "" {
		listen = serveListen
	}
	if listen == "" {
		listen = "0.0.0.0:8080"
	}

	store, err := statestore.New(dbPath(globalCfg.General), logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	fetcher := fetch.NewHTTPFetcher(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos := make(map[string]*scheduler.Repo, len(globalCfg.Repo))
	for _, repoCfg := range globalCfg.Repo {
		repoCfg := repoCfg
		run := func(ctx context.Context) (string, int64, int64, error) {
			return runRepoSync(ctx, globalCfg.General, repoCfg, store, fetcher)
		}
		s := scheduler.New(repoCfg.Name, run, globalCfg.General.MinSyncDelay(), globalCfg.General.MaxSyncDelay(), logger)
		repos[repoCfg.Name] = s
		go s.Loop(ctx)
	}

	api := statusapi.New(repos, logger)
	httpSrv := &http.Server{Addr: listen, Handler: api}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("status api listening", "address", listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("status api error: %w", err)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status api shutdown: %w", err)
		}
	}

	return nil
}
