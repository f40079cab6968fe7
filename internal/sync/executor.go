// Package sync implements the Executor: the crash-consistent publication
// protocol that turns a freshly parsed upstream manifest into a durably
// published repository view. Its orchestration follows a constructor-
// injected logger, a single driving method that logs start and
// completion, and a report struct returned to the caller, driving a
// fixed index→plan→publish pipeline.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/manifest"
	"github.com/zextras/reposync/internal/plan"
	"github.com/zextras/reposync/internal/statestore"
	"github.com/zextras/reposync/internal/storage"
)

// Input is everything one run needs beyond the Executor's own
// dependencies: the freshly parsed upstream manifest, the raw bytes of
// every index artifact it references (gathered by the Index Parser), and
// the fetch policy to apply when retrieving package bodies in step 3.
type Input struct {
	Manifest    manifest.Manifest
	StagedIndex map[string][]byte
	FetchPolicy FetchPolicy
}

// FetchPolicy carries the general config block's timeout/max_retries/
// retry_sleep and optional credentials into the Executor's own package
// fetches, so step 3 honors the same policy the Index Parser used to
// build the manifest.
type FetchPolicy struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Credentials *fetch.Credentials
}

// Report summarizes a completed run, independent of success or failure.
type Report struct {
	Repo       string
	Packages   int64
	Bytes      int64
	StartTime  time.Time
	EndTime    time.Time
	Result     string // "ok" or "failure: <reason>"
}

// Executor drives the publication protocol for a single repository.
type Executor struct {
	backend     storage.Backend
	invalidator storage.Invalidator
	store       *statestore.Store
	fetcher     fetch.Fetcher
	workers     int
	logger      *slog.Logger
}

// New creates an Executor. invalidator may be nil (no CDN configured).
// logger defaults to slog.Default() if nil.
func New(backend storage.Backend, invalidator storage.Invalidator, store *statestore.Store, fetcher fetch.Fetcher, workers int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Executor{
		backend:     backend,
		invalidator: invalidator,
		store:       store,
		fetcher:     fetcher,
		workers:     workers,
		logger:      logger,
	}
}

// Run executes the full protocol for repo against the supplied Input, and
// returns a Report describing the outcome. It never returns an error for
// a failed sync — failures are recorded in Report.Result and in the State
// Store's LastResult. A State Store failure, including one at the final
// commit, is recorded the same way, so the returned error is always nil.
func (e *Executor) Run(ctx context.Context, repo string, in Input) (Report, error) {
	start := time.Now()
	e.logger.Info("sync starting", "repo", repo, "packages", in.Manifest.PackageCount())

	report := Report{Repo: repo, StartTime: start}

	prior, err := e.store.Load(repo)
	if err != nil {
		return e.fail(report, repo, fmt.Errorf("load prior state: %w", err))
	}
	var mOld manifest.Manifest
	if prior != nil {
		mOld = prior.Manifest
	}

	p := plan.Compute(in.Manifest, mOld)
	e.logger.Info("sync planned", "repo", repo,
		"to_add_packages", len(p.ToAddPackages),
		"to_add_indexes", len(p.ToAddIndexes),
		"to_keep", len(p.ToKeep),
		"to_delete", len(p.ToDelete),
	)

	// Step 3: publish new packages one at a time, digest-gated. Fetches run
	// concurrently via fetch.Pool; writes remain strictly ordered so the
	// digest gate and the write are never interleaved across packages in a
	// way that would hide a mismatch.
	if err := e.publishPackages(ctx, repo, p.ToAddPackages, in.FetchPolicy); err != nil {
		return e.fail(report, repo, err)
	}

	// Step 4: publish new indexes — the commit point. Reuses the bytes
	// already staged by the Index Parser rather than refetching.
	if err := e.publishIndexes(ctx, repo, p.ToAddIndexes, in.StagedIndex); err != nil {
		return e.fail(report, repo, err)
	}

	// Step 5: invalidate CDN cache for everything written plus deletes.
	if e.invalidator != nil {
		paths := make([]string, 0, len(p.ToAddPackages)+len(p.ToAddIndexes)+len(p.ToDelete))
		for path := range p.ToAddPackages {
			paths = append(paths, path)
		}
		for path := range p.ToAddIndexes {
			paths = append(paths, path)
		}
		for path := range p.ToDelete {
			paths = append(paths, path)
		}
		if len(paths) > 0 {
			if err := e.invalidator.Invalidate(ctx, paths); err != nil {
				e.logger.Warn("cdn invalidation failed", "repo", repo, "error", err)
			}
		}
	}

	// Step 6: delete superseded entries. Errors are logged, non-fatal.
	for path := range p.ToDelete {
		if err := e.backend.Delete(ctx, path); err != nil {
			e.logger.Warn("failed to delete superseded entry", "repo", repo, "path", path, "error", err)
		}
	}

	// Step 7: commit state.
	now := time.Now()
	newState := statestore.PriorState{
		Repo:          repo,
		Manifest:      in.Manifest,
		CommittedAt:   now,
		LastResult:    "ok",
		LastAttemptAt: now,
	}
	if err := e.store.Commit(newState); err != nil {
		return e.fail(report, repo, fmt.Errorf("commit state: %w", err))
	}

	report.EndTime = now
	report.Result = "ok"
	report.Packages = in.Manifest.PackageCount()
	report.Bytes = in.Manifest.TotalSize()

	e.logger.Info("sync completed", "repo", repo,
		"packages", report.Packages, "bytes", report.Bytes,
		"duration", report.EndTime.Sub(report.StartTime),
	)

	if err := e.store.RecordRun(statestore.Run{
		Repo:      repo,
		StartTime: report.StartTime,
		EndTime:   report.EndTime,
		Status:    "ok",
		Packages:  report.Packages,
		Bytes:     report.Bytes,
	}); err != nil {
		e.logger.Warn("failed to record run history", "repo", repo, "error", err)
	}

	return report, nil
}

// fail records a failed run: the last published manifest is left
// untouched (only LastResult and LastAttemptAt are updated on the
// persisted Prior State, never the manifest or its commit timestamp).
func (e *Executor) fail(report Report, repo string, cause error) (Report, error) {
	report.EndTime = time.Now()
	report.Result = fmt.Sprintf("failure: %v", cause)
	e.logger.Error("sync failed", "repo", repo, "error", cause)

	prior, loadErr := e.store.Load(repo)
	if loadErr != nil {
		e.logger.Error("failed to load prior state while recording failure", "repo", repo, "error", loadErr)
		return report, nil
	}

	var failed statestore.PriorState
	if prior != nil {
		failed = *prior
	} else {
		failed = statestore.PriorState{Repo: repo}
	}
	failed.LastResult = report.Result
	failed.LastAttemptAt = report.EndTime

	if err := e.store.Commit(failed); err != nil {
		e.logger.Error("failed to persist failure outcome", "repo", repo, "error", err)
	}

	_ = e.store.RecordRun(statestore.Run{
		Repo:      repo,
		StartTime: report.StartTime,
		EndTime:   report.EndTime,
		Status:    report.Result,
	})

	return report, nil
}

func (e *Executor) publishPackages(ctx context.Context, repo string, toAdd manifest.Manifest, policy FetchPolicy) error {
	if len(toAdd) == 0 {
		return nil
	}

	jobs := make([]fetch.Job, 0, len(toAdd))
	for path, entry := range toAdd {
		jobs = append(jobs, fetch.Job{
			Path: path,
			Request: fetch.Request{
				URL:         entry.URL,
				Credentials: policy.Credentials,
				Timeout:     policy.Timeout,
				MaxRetries:  policy.MaxRetries,
				RetryDelay:  policy.RetryDelay,
			},
		})
	}

	pool := fetch.NewPool(e.fetcher, e.workers, e.logger)
	results := pool.Execute(ctx, jobs)

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("fetch package %s: %w", r.Job.Path, r.Err)
		}
		entry := toAdd[r.Job.Path]
		if alg, ok := entry.Digests.StrongestCommon(r.Result.Digests); !ok || entry.Digests[alg] != r.Result.Digests[alg] {
			return fmt.Errorf("digest mismatch")
		}
		if err := e.backend.WriteAtomic(ctx, r.Job.Path, r.Result.Data, ""); err != nil {
			return fmt.Errorf("write package %s: %w", r.Job.Path, err)
		}
		e.logger.Debug("package published", "repo", repo, "path", r.Job.Path, "size", r.Result.Size)
	}
	return nil
}

func (e *Executor) publishIndexes(ctx context.Context, repo string, toAdd manifest.Manifest, staged map[string][]byte) error {
	for path, entry := range toAdd {
		data, ok := staged[path]
		if !ok {
			return fmt.Errorf("index %s has no staged bytes", path)
		}
		if int64(len(data)) != entry.Size {
			return fmt.Errorf("staged index %s size mismatch", path)
		}
		if err := e.backend.WriteAtomic(ctx, path, data, ""); err != nil {
			return fmt.Errorf("write index %s: %w", path, err)
		}
		e.logger.Debug("index published", "repo", repo, "path", path, "size", entry.Size)
	}
	return nil
}
