package apt

import (
	"context"
	"fmt"
	"testing"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/manifest"
)

func TestParseStanzasFoldsContinuationLines(t *testing.T) {
	data := []byte("Package: foo\nDescription: one line\n two\n\nPackage: bar\n")
	stanzas, err := ParseStanzas(data)
	if err != nil {
		t.Fatalf("ParseStanzas: %v", err)
	}
	if len(stanzas) != 2 {
		t.Fatalf("got %d stanzas, want 2", len(stanzas))
	}
	if stanzas[0]["Package"] != "foo" {
		t.Errorf("Package = %q, want foo", stanzas[0]["Package"])
	}
	if stanzas[0]["Description"] != "one line\ntwo" {
		t.Errorf("Description = %q, want folded continuation", stanzas[0]["Description"])
	}
	if stanzas[1]["Package"] != "bar" {
		t.Errorf("second stanza Package = %q, want bar", stanzas[1]["Package"])
	}
}

func TestParseReleasePicksPreferredCompression(t *testing.T) {
	data := []byte(`Suite: bookworm
Components: main
Architectures: amd64
SHA256:
 aaa 100 main/binary-amd64/Packages
 bbb 40 main/binary-amd64/Packages.gz
`)
	rf, err := ParseRelease(data)
	if err != nil {
		t.Fatalf("ParseRelease: %v", err)
	}
	path, ok := rf.PackagesPath("main", "amd64")
	if !ok {
		t.Fatal("expected a Packages candidate")
	}
	if path != "main/binary-amd64/Packages.gz" {
		t.Errorf("PackagesPath = %q, want the .gz variant over plain", path)
	}
}

func TestParseReleaseNoCandidateWhenUnlisted(t *testing.T) {
	rf, err := ParseRelease([]byte("Suite: bookworm\n"))
	if err != nil {
		t.Fatalf("ParseRelease: %v", err)
	}
	if _, ok := rf.PackagesPath("main", "amd64"); ok {
		t.Error("expected no candidate for an unlisted component/architecture")
	}
}

func TestParsePackagesExtractsFilenameSizeDigests(t *testing.T) {
	data := []byte(`Package: pkg
Version: 1.0
Filename: pool/main/p/pkg/pkg_1.0_amd64.deb
Size: 1234
MD5sum: d41d8cd98f00b204e9800998ecf8427e
SHA256: e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855

Package: nodigest
Filename: pool/main/n/nodigest/nodigest_1.deb
Size: 1
`)
	records, err := ParsePackages(data)
	if err != nil {
		t.Fatalf("ParsePackages: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (digestless stanza must be skipped)", len(records))
	}
	r := records[0]
	if r.Filename != "pool/main/p/pkg/pkg_1.0_amd64.deb" {
		t.Errorf("Filename = %q", r.Filename)
	}
	if r.Size != 1234 {
		t.Errorf("Size = %d, want 1234", r.Size)
	}
	if r.Digests[manifest.SHA256] == "" || r.Digests[manifest.MD5] == "" {
		t.Errorf("expected both MD5 and SHA256 digests, got %+v", r.Digests)
	}
}

// fakeFetcher serves canned responses keyed by exact URL, for driving
// Parse end to end without a real HTTP server.
type fakeFetcher struct {
	responses map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Result, error) {
	data, ok := f.responses[req.URL]
	if !ok {
		// A missing canned response models a 404 from upstream: permanent,
		// so apt.Parse's InRelease->Release+gpg fallback can trigger on it.
		return nil, &fetch.Error{Classification: fetch.Permanent, StatusCode: 404, Err: fmt.Errorf("no response for %s", req.URL)}
	}
	return &fetch.Result{
		Data: data,
		Size: int64(len(data)),
		Digests: manifest.DigestSet{
			manifest.SHA256: fmt.Sprintf("sha256-of-%s", req.URL),
		},
	}, nil
}

func TestParseEndToEndNoSignature(t *testing.T) {
	const base = "http://mirror.example.test"
	// The digest listed for the Packages file must match what fakeFetcher
	// will report for its URL, since Parse cross-checks Release's digest
	// section against the freshly fetched bytes before trusting them.
	packagesURL := base + "/dists/bookworm/main/binary-amd64/Packages"
	release := []byte(fmt.Sprintf(`Suite: bookworm
Components: main
Architectures: amd64
SHA256:
 sha256-of-%s 40 main/binary-amd64/Packages
`, packagesURL))
	packages := []byte(`Package: pkg
Filename: pool/main/p/pkg/pkg_1.deb
Size: 10
SHA256: pkgdigest

`)

	f := &fakeFetcher{responses: map[string][]byte{}}
	// InRelease is deliberately absent so Parse falls back to Release+Release.gpg.
	f.responses[base+"/dists/bookworm/Release"] = release
	f.responses[base+"/dists/bookworm/Release.gpg"] = []byte("not-a-real-signature")
	f.responses[base+"/dists/bookworm/main/binary-amd64/Packages"] = packages

	result, err := Parse(context.Background(), f, base, "bookworm", []string{"main"}, []string{"amd64"}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, ok := result.Manifest["dists/bookworm/Release"]; !ok {
		t.Error("expected Release to be present in the manifest")
	}
	if _, ok := result.Manifest["dists/bookworm/Release.gpg"]; !ok {
		t.Error("expected Release.gpg to be present in the manifest")
	}
	pkgEntry, ok := result.Manifest["pool/main/p/pkg/pkg_1.deb"]
	if !ok {
		t.Fatal("expected the pool-relative package path to be present")
	}
	if pkgEntry.Role != manifest.RolePackage {
		t.Errorf("package entry role = %q, want package", pkgEntry.Role)
	}
	if pkgEntry.Size != 10 {
		t.Errorf("package entry size = %d, want 10", pkgEntry.Size)
	}
}
