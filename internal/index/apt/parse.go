package apt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/crypto/openpgp/clearsign"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/manifest"
	"github.com/zextras/reposync/internal/sig"
)

// Options bounds the fetches Parse issues for one suite, mirroring the
// general config block's timeout/max_retries/retry_sleep.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Credentials *fetch.Credentials
	// Verifier checks the suite root's OpenPGP signature. Nil means no
	// public key is configured for the repository, so verification is
	// skipped entirely.
	Verifier *sig.Verifier
}

// Result is a parsed suite: the uniform manifest plus the raw bytes of
// every index artifact already fetched while parsing, so the Executor's
// staging step can use them without a redundant re-fetch.
type Result struct {
	Manifest manifest.Manifest
	Staged   map[string][]byte
}

// Parse fetches dists/<suite>/InRelease (preferred) or Release+Release.gpg
// (fallback) under baseURL, verifies the root's signature when a Verifier
// is configured, enumerates the Packages file for every component×arch
// pair, and returns the uniform Manifest shape the rest of the core
// expects.
func Parse(ctx context.Context, fetcher fetch.Fetcher, baseURL, suite string, components, architectures []string, opts Options) (*Result, error) {
	suiteBase := fmt.Sprintf("%s/dists/%s", baseURL, suite)
	m := make(manifest.Manifest)
	staged := make(map[string][]byte)

	releaseData, releasePaths, releaseRaw, err := fetchSuiteRoot(ctx, fetcher, suite, suiteBase, opts)
	if err != nil {
		return nil, err
	}
	for path, data := range releaseRaw {
		staged[path] = data
	}

	release, err := ParseRelease(releaseData)
	if err != nil {
		return nil, fmt.Errorf("parse Release: %w", err)
	}

	for _, component := range components {
		for _, arch := range architectures {
			packagesPath, ok := release.PackagesPath(component, arch)
			if !ok {
				continue
			}

			fullPath := suiteBase + "/" + packagesPath
			result, err := doFetch(ctx, fetcher, fullPath, opts)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", packagesPath, err)
			}

			digests, hasDigest := release.Files[packagesPath]
			if hasDigest {
				if alg, ok := digests.StrongestCommon(result.Digests); !ok || digests[alg] != result.Digests[alg] {
					return nil, fmt.Errorf("digest mismatch for %s", packagesPath)
				}
			}

			indexPath := "dists/" + suite + "/" + packagesPath
			m[indexPath] = manifest.Entry{
				Path:    indexPath,
				Size:    result.Size,
				Digests: result.Digests,
				Role:    manifest.RoleIndex,
				URL:     fullPath,
			}
			staged[indexPath] = result.Data

			decoded, err := decompressPackages(packagesPath, result.Data)
			if err != nil {
				return nil, fmt.Errorf("decompress %s: %w", packagesPath, err)
			}

			records, err := ParsePackages(decoded)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", packagesPath, err)
			}

			for _, rec := range records {
				pkgPath := "dists/" + suite + "/" + component + "/" + rec.Filename
				// Filename in a Packages file is already pool-relative
				// (e.g. "pool/main/p/pkg/pkg_1.deb"); use it verbatim when
				// it already looks pool-rooted.
				if len(rec.Filename) > 5 && rec.Filename[:5] == "pool/" {
					pkgPath = rec.Filename
				}
				m[pkgPath] = manifest.Entry{
					Path:    pkgPath,
					Size:    rec.Size,
					Digests: rec.Digests,
					Role:    manifest.RolePackage,
					URL:     baseURL + "/" + rec.Filename,
				}
			}
		}
	}

	for path, entry := range releasePaths {
		m[path] = entry
	}

	return &Result{Manifest: m, Staged: staged}, nil
}

// fetchSuiteRoot tries InRelease first, falling back to Release+Release.gpg,
// returning the verified plaintext Release content, the manifest entries
// for whichever root files were fetched, and their raw staged bytes.
func fetchSuiteRoot(ctx context.Context, fetcher fetch.Fetcher, suite, suiteBase string, opts Options) ([]byte, map[string]manifest.Entry, map[string][]byte, error) {
	entries := map[string]manifest.Entry{}
	raw := map[string][]byte{}
	prefix := "dists/" + suite + "/"

	inReleaseURL := suiteBase + "/InRelease"
	inRelease, err := doFetch(ctx, fetcher, inReleaseURL, opts)
	if err == nil {
		var plaintext []byte
		if opts.Verifier != nil {
			plaintext, err = opts.Verifier.VerifyClearSigned(inRelease.Data)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("verify InRelease: %w", err)
			}
		} else {
			block, _ := clearsign.Decode(inRelease.Data)
			if block == nil {
				return nil, nil, nil, fmt.Errorf("apt: InRelease is not a clearsigned message")
			}
			plaintext = block.Plaintext
		}

		entries[prefix+"InRelease"] = manifest.Entry{
			Path:    prefix + "InRelease",
			Size:    inRelease.Size,
			Digests: inRelease.Digests,
			Role:    manifest.RoleIndex,
			URL:     inReleaseURL,
		}
		raw[prefix+"InRelease"] = inRelease.Data
		return plaintext, entries, raw, nil
	}

	var fe *fetch.Error
	if errors.As(err, &fe) && fe.Classification == fetch.Permanent {
		releaseURL := suiteBase + "/Release"
		gpgURL := suiteBase + "/Release.gpg"

		release, relErr := doFetch(ctx, fetcher, releaseURL, opts)
		if relErr != nil {
			return nil, nil, nil, fmt.Errorf("fetch Release: %w", relErr)
		}
		gpg, gpgErr := doFetch(ctx, fetcher, gpgURL, opts)
		if gpgErr != nil {
			return nil, nil, nil, fmt.Errorf("fetch Release.gpg: %w", gpgErr)
		}

		if opts.Verifier != nil {
			if verr := opts.Verifier.VerifyDetached(release.Data, gpg.Data); verr != nil {
				return nil, nil, nil, fmt.Errorf("verify Release: %w", verr)
			}
		}

		entries[prefix+"Release"] = manifest.Entry{
			Path:    prefix + "Release",
			Size:    release.Size,
			Digests: release.Digests,
			Role:    manifest.RoleIndex,
			URL:     releaseURL,
		}
		entries[prefix+"Release.gpg"] = manifest.Entry{
			Path:    prefix + "Release.gpg",
			Size:    gpg.Size,
			Digests: gpg.Digests,
			Role:    manifest.RoleIndex,
			URL:     gpgURL,
		}
		raw[prefix+"Release"] = release.Data
		raw[prefix+"Release.gpg"] = gpg.Data
		return release.Data, entries, raw, nil
	}

	return nil, nil, nil, fmt.Errorf("fetch InRelease: %w", err)
}

func doFetch(ctx context.Context, fetcher fetch.Fetcher, url string, opts Options) (*fetch.Result, error) {
	return fetcher.Fetch(ctx, fetch.Request{
		URL:         url,
		Credentials: opts.Credentials,
		Timeout:     opts.Timeout,
		MaxRetries:  opts.MaxRetries,
		RetryDelay:  opts.RetryDelay,
	})
}

func decompressPackages(path string, data []byte) ([]byte, error) {
	switch {
	case hasSuffix(path, ".xz"):
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	case hasSuffix(path, ".gz"):
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return data, nil
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
