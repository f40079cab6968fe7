package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/zextras/reposync/internal/config"
	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/index/apt"
	"github.com/zextras/reposync/internal/index/rpm"
	"github.com/zextras/reposync/internal/manifest"
	"github.com/zextras/reposync/internal/sig"
	"github.com/zextras/reposync/internal/statestore"
	"github.com/zextras/reposync/internal/storage"
	syncpkg "github.com/zextras/reposync/internal/sync"
)

// buildBackend constructs the Storage Abstraction backend and, if
// configured, its CDN invalidator for one repository's destination.
// Exactly one of repo.Local/repo.S3 is guaranteed non-nil by config
// validation.
func buildBackend(ctx context.Context, repo config.RepoConfig) (storage.Backend, storage.Invalidator, error) {
	if repo.Local != nil {
		backend, err := storage.NewLocalBackend(repo.Local.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("local backend: %w", err)
		}
		return backend, nil, nil
	}

	backend, err := storage.NewS3Backend(ctx, storage.S3Config{
		Endpoint:  repo.S3.Endpoint,
		Region:    repo.S3.Region,
		Bucket:    repo.S3.Bucket,
		Prefix:    repo.S3.Prefix,
		AccessKey: repo.S3.AccessKey,
		SecretKey: repo.S3.SecretKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("s3 backend: %w", err)
	}

	var invalidator storage.Invalidator
	if repo.S3.CloudFrontDistributionID != "" {
		inv, err := storage.NewCloudFrontInvalidator(ctx, repo.S3.Region, repo.S3.AccessKey, repo.S3.SecretKey, repo.S3.CloudFrontDistributionID)
		if err != nil {
			return nil, nil, fmt.Errorf("cloudfront invalidator: %w", err)
		}
		invalidator = inv
	}

	return backend, invalidator, nil
}

// buildVerifier parses repo.PublicKeys into a Verifier, or returns nil if
// none are configured — the Index Parser skips signature verification in
// that case.
func buildVerifier(repo config.RepoConfig) (*sig.Verifier, error) {
	if len(repo.PublicKeys) == 0 {
		return nil, nil
	}
	keyring, err := sig.ParseKeyRing(repo.PublicKeys)
	if err != nil {
		return nil, fmt.Errorf("parse public keys: %w", err)
	}
	return sig.New(keyring, logger), nil
}

// fetchPolicy translates the general config block plus optional per-repo
// credentials into the shared retry/timeout policy used by both the Index
// Parser and the Executor's own package fetches.
func fetchPolicy(general config.GeneralConfig, repo config.RepoConfig) (fetch.Request, error) {
	creds, err := fetch.ResolveCredentials(inlineCredentials(repo), repo.CredentialsFile)
	if err != nil {
		return fetch.Request{}, fmt.Errorf("resolve credentials: %w", err)
	}
	return fetch.Request{
		Credentials: creds,
		Timeout:     general.Timeout(),
		MaxRetries:  general.MaxRetries,
		RetryDelay:  general.RetrySleep(),
	}, nil
}

func inlineCredentials(repo config.RepoConfig) *fetch.Credentials {
	if repo.Username == "" && repo.Password == "" {
		return nil
	}
	return &fetch.Credentials{Username: repo.Username, Password: repo.Password}
}

// parseUpstream runs the Index Parser appropriate to repo.Kind and merges
// its result into a single manifest and staged-bytes map. APT repositories
// mirror one manifest per configured suite; RPM repositories have exactly
// one repodata tree.
func parseUpstream(ctx context.Context, fetcher fetch.Fetcher, general config.GeneralConfig, repo config.RepoConfig) (manifest.Manifest, map[string][]byte, error) {
	policy, err := fetchPolicy(general, repo)
	if err != nil {
		return nil, nil, err
	}

	verifier, err := buildVerifier(repo)
	if err != nil {
		return nil, nil, err
	}

	merged := make(manifest.Manifest)
	staged := make(map[string][]byte)

	switch repo.Kind {
	case config.KindAPT:
		suites := repo.Suites
		if len(suites) == 0 {
			return nil, nil, fmt.Errorf("apt repository %q has no suites configured", repo.Name)
		}
		for _, suite := range suites {
			result, err := apt.Parse(ctx, fetcher, repo.Endpoint, suite, repo.Components, repo.Architectures, apt.Options{
				Timeout:     policy.Timeout,
				MaxRetries:  policy.MaxRetries,
				RetryDelay:  policy.RetryDelay,
				Credentials: policy.Credentials,
				Verifier:    verifier,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("parse suite %q: %w", suite, err)
			}
			for path, entry := range result.Manifest {
				merged[path] = entry
			}
			for path, data := range result.Staged {
				staged[path] = data
			}
		}
	case config.KindRPM:
		result, err := rpm.Parse(ctx, fetcher, repo.Endpoint, rpm.Options{
			Timeout:     policy.Timeout,
			MaxRetries:  policy.MaxRetries,
			RetryDelay:  policy.RetryDelay,
			Credentials: policy.Credentials,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("parse repodata: %w", err)
		}
		merged = result.Manifest
		staged = result.Staged
	default:
		return nil, nil, fmt.Errorf("repository %q has unknown kind %q", repo.Name, repo.Kind)
	}

	if err := merged.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid upstream manifest: %w", err)
	}

	return merged, staged, nil
}

// runRepoSync performs one full sync attempt for repo: parse the upstream
// manifest, then hand it to the Executor for the crash-consistent
// publication protocol. It is the RunFunc every scheduler.Repo and the
// `sync` command invoke.
func runRepoSync(ctx context.Context, general config.GeneralConfig, repo config.RepoConfig, store *statestore.Store, fetcher fetch.Fetcher) (lastResult string, size, packages int64, err error) {
	backend, invalidator, err := buildBackend(ctx, repo)
	if err != nil {
		return "", 0, 0, fmt.Errorf("build backend: %w", err)
	}

	m, staged, err := parseUpstream(ctx, fetcher, general, repo)
	if err != nil {
		return "", 0, 0, err
	}

	policy, err := fetchPolicy(general, repo)
	if err != nil {
		return "", 0, 0, err
	}

	executor := syncpkg.New(backend, invalidator, store, fetcher, 0, logger)
	report, err := executor.Run(ctx, repo.Name, syncpkg.Input{
		Manifest:    m,
		StagedIndex: staged,
		FetchPolicy: syncpkg.FetchPolicy{
			Timeout:     policy.Timeout,
			MaxRetries:  policy.MaxRetries,
			RetryDelay:  policy.RetryDelay,
			Credentials: policy.Credentials,
		},
	})
	if err != nil {
		return report.Result, report.Bytes, report.Packages, err
	}
	// The Executor itself never returns an error for a failed sync — the
	// disposition is carried entirely in report.Result — but every caller
	// of this RunFunc, the CLI's exit code and the Scheduler's status
	// snapshot, needs a non-nil err to recognize the run failed.
	if strings.HasPrefix(report.Result, "failure:") {
		return report.Result, report.Bytes, report.Packages, fmt.Errorf("%s", report.Result)
	}
	return report.Result, report.Bytes, report.Packages, nil
}
