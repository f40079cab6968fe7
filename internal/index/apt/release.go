package apt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zextras/reposync/internal/manifest"
)

// ReleaseFile is the parsed form of a suite's Release (or the plaintext
// embedded in an InRelease clearsigned message): the set of components and
// architectures it advertises, and the size/digest of every file it lists
// in its MD5Sum/SHA1/SHA256/SHA512 sections.
type ReleaseFile struct {
	Suite         string
	Codename      string
	Components    []string
	Architectures []string
	Files         map[string]manifest.DigestSet
	Sizes         map[string]int64
}

var releaseDigestFields = map[string]manifest.Algorithm{
	"MD5Sum":  manifest.MD5,
	"SHA1":    manifest.SHA1,
	"SHA256":  manifest.SHA256,
	"SHA512":  manifest.SHA512,
}

// ParseRelease parses a Release file's deb822 stanza (there is exactly one)
// into a ReleaseFile, merging the digest lines of every hash section it
// carries so each listed path accumulates every algorithm Release offers.
func ParseRelease(data []byte) (*ReleaseFile, error) {
	stanzas, err := ParseStanzas(data)
	if err != nil {
		return nil, err
	}
	if len(stanzas) == 0 {
		return nil, fmt.Errorf("apt: Release file has no stanza")
	}
	s := stanzas[0]

	rf := &ReleaseFile{
		Suite:    s["Suite"],
		Codename: s["Codename"],
		Files:    map[string]manifest.DigestSet{},
		Sizes:    map[string]int64{},
	}
	if comp := strings.TrimSpace(s["Components"]); comp != "" {
		rf.Components = strings.Fields(comp)
	}
	if arch := strings.TrimSpace(s["Architectures"]); arch != "" {
		rf.Architectures = strings.Fields(arch)
	}

	for field, alg := range releaseDigestFields {
		raw, ok := s[field]
		if !ok {
			continue
		}
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if len(parts) != 3 {
				continue
			}
			digest, sizeStr, path := parts[0], parts[1], parts[2]
			size, err := strconv.ParseInt(sizeStr, 10, 64)
			if err != nil {
				continue
			}
			if rf.Files[path] == nil {
				rf.Files[path] = manifest.DigestSet{}
			}
			rf.Files[path][alg] = digest
			rf.Sizes[path] = size
		}
	}

	return rf, nil
}

// PackagesPath returns the path of the preferred Packages file for the
// component×architecture pair, in the preference order xz > gz > plain,
// filtered to entries the Release file actually lists.
func (r *ReleaseFile) PackagesPath(component, arch string) (string, bool) {
	base := fmt.Sprintf("%s/binary-%s/Packages", component, arch)
	for _, suffix := range []string{".xz", ".gz", ""} {
		candidate := base + suffix
		if _, ok := r.Files[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}
