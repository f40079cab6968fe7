package rpm

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"testing"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/manifest"
)

const repomdXML = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <checksum type="sha256">primarychecksum</checksum>
    <location href="repodata/primary.xml.gz"/>
    <size>123</size>
  </data>
  <data type="filelists">
    <checksum type="sha256">filelistschecksum</checksum>
    <location href="repodata/filelists.xml.gz"/>
    <size>456</size>
  </data>
</repomd>`

func TestParseRepomdFindsPrimaryAndFilelists(t *testing.T) {
	repomd, err := ParseRepomd([]byte(repomdXML))
	if err != nil {
		t.Fatalf("ParseRepomd: %v", err)
	}
	if len(repomd.Data) != 2 {
		t.Fatalf("got %d data entries, want 2", len(repomd.Data))
	}
	if repomd.Data[0].Type != "primary" || repomd.Data[0].Location.Href != "repodata/primary.xml.gz" {
		t.Errorf("repomd.Data[0] = %+v, want primary @ repodata/primary.xml.gz", repomd.Data[0])
	}
	if repomd.Data[1].Type != "filelists" || repomd.Data[1].Checksum.Value != "filelistschecksum" {
		t.Errorf("repomd.Data[1] = %+v, want filelists with checksum filelistschecksum", repomd.Data[1])
	}
}

const primaryXML = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" packages="1">
  <package type="rpm">
    <name>httpd</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="2.4.57" rel="2.el9"/>
    <checksum type="sha256" pkgid="YES">abc123</checksum>
    <size package="204800" installed="600000"/>
    <location href="Packages/h/httpd-2.4.57-2.el9.x86_64.rpm"/>
  </package>
</metadata>`

func TestParsePrimaryExtractsPackages(t *testing.T) {
	parsed, err := ParsePrimary([]byte(primaryXML))
	if err != nil {
		t.Fatalf("ParsePrimary: %v", err)
	}
	pkgs := parsed.ExtractPackages()
	if len(pkgs) != 1 {
		t.Fatalf("got %d packages, want 1", len(pkgs))
	}
	p := pkgs[0]
	if p.Name != "httpd" || p.Arch != "x86_64" {
		t.Errorf("Name/Arch = %q/%q", p.Name, p.Arch)
	}
	if p.Location != "Packages/h/httpd-2.4.57-2.el9.x86_64.rpm" {
		t.Errorf("Location = %q", p.Location)
	}
	if p.ChecksumType != "sha256" || p.Checksum != "abc123" {
		t.Errorf("Checksum = %s:%s", p.ChecksumType, p.Checksum)
	}
	if p.Size != 204800 {
		t.Errorf("Size = %d, want 204800", p.Size)
	}
}

func TestDecompressGzipMagicBytes(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(primaryXML)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	out, err := decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != primaryXML {
		t.Errorf("decompressed content mismatch")
	}
}

func TestDecompressPassesThroughUncompressedData(t *testing.T) {
	out, err := decompress([]byte(primaryXML))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != primaryXML {
		t.Error("expected uncompressed data to pass through unchanged")
	}
}

// fakeFetcher serves canned responses keyed by exact URL.
type fakeFetcher struct {
	responses map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Result, error) {
	data, ok := f.responses[req.URL]
	if !ok {
		return nil, fmt.Errorf("fake fetcher: no response for %s", req.URL)
	}
	return &fetch.Result{Data: data, Size: int64(len(data)), Digests: manifest.DigestSet{manifest.SHA256: "irrelevant"}}, nil
}

func TestParseEndToEnd(t *testing.T) {
	const base = "http://mirror.example.test/epel9"

	var gzPrimary bytes.Buffer
	gz := gzip.NewWriter(&gzPrimary)
	if _, err := gz.Write([]byte(primaryXML)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	f := &fakeFetcher{responses: map[string][]byte{
		base + "/repodata/repomd.xml":       []byte(repomdXML),
		base + "/repodata/primary.xml.gz":   gzPrimary.Bytes(),
		base + "/repodata/filelists.xml.gz": []byte("fake filelists content"),
	}}

	result, err := Parse(context.Background(), f, base, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, ok := result.Manifest["repodata/repomd.xml"]; !ok {
		t.Error("expected repomd.xml in the manifest")
	}
	if _, ok := result.Manifest["repodata/primary.xml.gz"]; !ok {
		t.Error("expected primary.xml.gz in the manifest as an index entry")
	}
	if _, ok := result.Manifest["repodata/filelists.xml.gz"]; !ok {
		t.Error("expected filelists.xml.gz in the manifest as an index entry")
	}
	pkgEntry, ok := result.Manifest["Packages/h/httpd-2.4.57-2.el9.x86_64.rpm"]
	if !ok {
		t.Fatal("expected the httpd package to be present in the manifest")
	}
	if pkgEntry.Role != manifest.RolePackage {
		t.Errorf("package entry role = %q, want package", pkgEntry.Role)
	}
	if pkgEntry.Digests[manifest.SHA256] != "abc123" {
		t.Errorf("package digest = %q, want abc123", pkgEntry.Digests[manifest.SHA256])
	}
	if _, ok := result.Staged["repodata/repomd.xml"]; !ok {
		t.Error("expected repomd.xml bytes to be staged")
	}
	if _, ok := result.Staged["repodata/primary.xml.gz"]; !ok {
		t.Error("expected primary.xml.gz bytes to be staged")
	}
	if _, ok := result.Staged["repodata/filelists.xml.gz"]; !ok {
		t.Error("expected filelists.xml.gz bytes to be staged, since repomd.xml advertises it as an index artifact the Executor must publish")
	}
}

func TestParseFailsWithoutPrimaryEntry(t *testing.T) {
	const base = "http://mirror.example.test/epel9"
	noPrimary := `<?xml version="1.0"?><repomd xmlns="http://linux.duke.edu/metadata/repo"></repomd>`
	f := &fakeFetcher{responses: map[string][]byte{
		base + "/repodata/repomd.xml": []byte(noPrimary),
	}}

	if _, err := Parse(context.Background(), f, base, Options{}); err == nil {
		t.Error("expected an error when repomd.xml has no primary entry")
	}
}
