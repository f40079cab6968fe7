// Package manifest holds the uniform package/index representation shared by
// the APT and RPM index parsers, the planner, and the state store.
package manifest

import "fmt"

// Algorithm identifies a content digest algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// strength orders algorithms from weakest to strongest so the planner can
// pick the strongest digest two manifests have in common.
var strength = map[Algorithm]int{
	MD5:    0,
	SHA1:   1,
	SHA256: 2,
	SHA512: 3,
}

// DigestSet is the set of content digests known for a package or index
// artifact, keyed by algorithm. It must be non-empty for any manifest entry.
type DigestSet map[Algorithm]string

// StrongestCommon returns the algorithm both sets share that has the
// highest strength, and whether one exists. Two entries are identical iff
// StrongestCommon returns a matching pair of hex digests.
func (d DigestSet) StrongestCommon(other DigestSet) (Algorithm, bool) {
	best := Algorithm("")
	bestStrength := -1
	for alg := range d {
		if _, ok := other[alg]; !ok {
			continue
		}
		if s := strength[alg]; s > bestStrength {
			bestStrength = s
			best = alg
		}
	}
	if bestStrength < 0 {
		return "", false
	}
	return best, true
}

// Equal reports whether d and other identify the same content: they share
// at least one algorithm and the strongest common one matches. No common
// algorithm is treated as a mismatch (replace).
func (d DigestSet) Equal(other DigestSet) bool {
	alg, ok := d.StrongestCommon(other)
	if !ok {
		return false
	}
	return d[alg] == other[alg]
}

// Role distinguishes index artifacts (Release, Packages, repomd.xml, ...)
// from the packages they reference.
type Role string

const (
	RoleIndex   Role = "index"
	RolePackage Role = "package"
)

// Entry is one manifest row: a destination-relative path mapped to its
// expected size, digest set, and role.
type Entry struct {
	Path    string
	Size    int64
	Digests DigestSet
	Role    Role

	// URL is the upstream location this entry was fetched from. Not part
	// of the persisted identity, but required by the Executor to fetch it.
	URL string
}

// Validate checks the per-entry invariants: non-empty digest set,
// non-negative size.
func (e Entry) Validate() error {
	if len(e.Digests) == 0 {
		return fmt.Errorf("manifest entry %q has no digests", e.Path)
	}
	if e.Size < 0 {
		return fmt.Errorf("manifest entry %q has negative size", e.Path)
	}
	return nil
}

// Manifest is the transitive closure of an index set: destination-relative
// path to Entry.
type Manifest map[string]Entry

// TotalSize sums the size of every entry, used for the Status Service's
// `size` field.
func (m Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m {
		total += e.Size
	}
	return total
}

// PackageCount counts entries with Role == RolePackage, used for the
// Status Service's `packages` field.
func (m Manifest) PackageCount() int64 {
	var n int64
	for _, e := range m {
		if e.Role == RolePackage {
			n++
		}
	}
	return n
}

// Validate checks every manifest-level invariant. Every package being
// referenced by at least one index is enforced by construction in the
// parsers (packages only enter the manifest because an index enumerates
// them), so here we check the remaining per-entry invariants.
func (m Manifest) Validate() error {
	for path, e := range m {
		if e.Path != path {
			return fmt.Errorf("manifest entry key %q does not match entry path %q", path, e.Path)
		}
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}
