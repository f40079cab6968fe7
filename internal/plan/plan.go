// Package plan diffs the freshly fetched upstream manifest against the
// last-published one to compute what the Executor needs to add, keep,
// and delete.
package plan

import "github.com/zextras/reposync/internal/manifest"

// Plan is the disjoint partition of a manifest diff. ToAdd is already
// split into packages and indexes because that split is load-bearing for
// the Executor's publication order.
type Plan struct {
	ToAddPackages manifest.Manifest
	ToAddIndexes  manifest.Manifest
	ToKeep        manifest.Manifest
	ToDelete      manifest.Manifest
}

// Compute diffs mNew against mOld. Identity between an entry in mNew and
// the same path in mOld is by DigestSet.Equal: a path present in both with
// equal digest sets is unchanged; otherwise mNew's entry replaces it.
func Compute(mNew, mOld manifest.Manifest) Plan {
	p := Plan{
		ToAddPackages: manifest.Manifest{},
		ToAddIndexes:  manifest.Manifest{},
		ToKeep:        manifest.Manifest{},
		ToDelete:      manifest.Manifest{},
	}

	for path, newEntry := range mNew {
		oldEntry, existed := mOld[path]
		if existed && oldEntry.Digests.Equal(newEntry.Digests) {
			p.ToKeep[path] = newEntry
			continue
		}
		if newEntry.Role == manifest.RolePackage {
			p.ToAddPackages[path] = newEntry
		} else {
			p.ToAddIndexes[path] = newEntry
		}
	}

	for path, oldEntry := range mOld {
		if _, stillPresent := mNew[path]; !stillPresent {
			p.ToDelete[path] = oldEntry
		}
	}

	return p
}
