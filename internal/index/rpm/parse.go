package rpm

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/manifest"
)

// Options bounds a single repodata fetch, mirroring the general config
// block's timeout/max_retries/retry_sleep.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Credentials *fetch.Credentials
}

// Result is a parsed RPM repository: the uniform manifest plus the raw
// bytes of repomd.xml and every metadata file it advertises, already
// fetched while parsing so the Executor's staging step can use them
// without a redundant re-fetch.
type Result struct {
	Manifest manifest.Manifest
	Staged   map[string][]byte
}

// Parse fetches repodata/repomd.xml under baseURL and every metadata file
// it advertises, and returns the uniform Manifest shape the rest of the
// core expects: repomd.xml and every metadata file it lists as
// role=index entries, and every package primary.xml enumerates as
// role=package entries.
func Parse(ctx context.Context, fetcher fetch.Fetcher, baseURL string, opts Options) (*Result, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	m := make(manifest.Manifest)
	staged := make(map[string][]byte)

	repomdURL := baseURL + "/repodata/repomd.xml"
	repomdResult, err := doFetch(ctx, fetcher, repomdURL, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch repomd.xml: %w", err)
	}
	staged["repodata/repomd.xml"] = repomdResult.Data

	repomd, err := ParseRepomd(repomdResult.Data)
	if err != nil {
		return nil, err
	}

	m["repodata/repomd.xml"] = manifest.Entry{
		Path:    "repodata/repomd.xml",
		Size:    repomdResult.Size,
		Digests: repomdResult.Digests,
		Role:    manifest.RoleIndex,
		URL:     repomdURL,
	}

	// Fetch and stage every metadata file repomd.xml advertises, not just
	// primary — the Executor's staging step requires every index artifact
	// to be staged, and publishIndexes later looks up each to_add_indexes
	// entry by this same relPath.
	var primaryRelPath string
	var primaryData []byte
	for _, data := range repomd.Data {
		if data.Location.Href == "" {
			continue
		}
		relPath := path.Join("repodata", path.Base(data.Location.Href))
		if strings.HasPrefix(data.Location.Href, "repodata/") {
			relPath = data.Location.Href
		}

		digests := manifest.DigestSet{}
		if alg, ok := mapAlgorithm(data.Checksum.Type); ok && data.Checksum.Value != "" {
			digests[alg] = data.Checksum.Value
		}
		if len(digests) == 0 {
			continue
		}

		metaURL := baseURL + "/" + data.Location.Href
		metaResult, err := doFetch(ctx, fetcher, metaURL, opts)
		if err != nil {
			return nil, fmt.Errorf("fetch %s metadata: %w", data.Type, err)
		}

		m[relPath] = manifest.Entry{
			Path:    relPath,
			Size:    data.Size,
			Digests: digests,
			Role:    manifest.RoleIndex,
			URL:     metaURL,
		}
		staged[relPath] = metaResult.Data

		if data.Type == "primary" {
			primaryRelPath = relPath
			primaryData = metaResult.Data
		}
	}

	if primaryRelPath == "" {
		return nil, fmt.Errorf("repomd.xml has no primary metadata entry")
	}

	primaryXML, err := decompress(primaryData)
	if err != nil {
		return nil, fmt.Errorf("decompress primary metadata: %w", err)
	}

	primary, err := ParsePrimary(primaryXML)
	if err != nil {
		return nil, err
	}

	for _, pkg := range primary.ExtractPackages() {
		if pkg.Location == "" {
			continue
		}
		digests := manifest.DigestSet{}
		if alg, ok := mapAlgorithm(pkg.ChecksumType); ok && pkg.Checksum != "" {
			digests[alg] = pkg.Checksum
		}
		if len(digests) == 0 {
			continue
		}

		m[pkg.Location] = manifest.Entry{
			Path:    pkg.Location,
			Size:    pkg.Size,
			Digests: digests,
			Role:    manifest.RolePackage,
			URL:     baseURL + "/" + pkg.Location,
		}
	}

	return &Result{Manifest: m, Staged: staged}, nil
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

func mapAlgorithm(rpmChecksumType string) (manifest.Algorithm, bool) {
	switch strings.ToLower(rpmChecksumType) {
	case "md5":
		return manifest.MD5, true
	case "sha", "sha1":
		return manifest.SHA1, true
	case "sha256":
		return manifest.SHA256, true
	case "sha512":
		return manifest.SHA512, true
	default:
		return "", false
	}
}
