package apt

import (
	"strconv"
	"strings"

	"github.com/zextras/reposync/internal/manifest"
)

// PackageRecord is one binary package entry in a Packages file: the
// fields the manifest needs (Filename, Size, digests) plus enough
// identity to be useful in logs.
type PackageRecord struct {
	Package  string
	Version  string
	Filename string
	Size     int64
	Digests  manifest.DigestSet
}

var packagesDigestFields = map[string]manifest.Algorithm{
	"MD5sum": manifest.MD5,
	"SHA1":   manifest.SHA1,
	"SHA256": manifest.SHA256,
	"SHA512": manifest.SHA512,
}

// ParsePackages parses a decompressed Packages file into its package
// records, one per stanza that has a Filename and at least one digest;
// other stanzas are skipped.
func ParsePackages(data []byte) ([]PackageRecord, error) {
	stanzas, err := ParseStanzas(data)
	if err != nil {
		return nil, err
	}

	records := make([]PackageRecord, 0, len(stanzas))
	for _, s := range stanzas {
		filename := strings.TrimSpace(s["Filename"])
		if filename == "" {
			continue
		}

		digests := manifest.DigestSet{}
		for field, alg := range packagesDigestFields {
			if v := strings.TrimSpace(s[field]); v != "" {
				digests[alg] = v
			}
		}
		if len(digests) == 0 {
			continue
		}

		var size int64
		if v := strings.TrimSpace(s["Size"]); v != "" {
			size, _ = strconv.ParseInt(v, 10, 64)
		}

		records = append(records, PackageRecord{
			Package:  s["Package"],
			Version:  s["Version"],
			Filename: filename,
			Size:     size,
			Digests:  digests,
		})
	}
	return records, nil
}
