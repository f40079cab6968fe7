// Package statestore persists the per-repository prior state: the last
// successfully-published manifest, the timestamp of that commit, and the
// outcome of the most recent attempt (which updates even when that
// attempt failed, without touching the manifest or timestamp).
package statestore

import (
	"time"

	"github.com/zextras/reposync/internal/manifest"
)

// PriorState is the persisted record for one repository.
type PriorState struct {
	Repo          string
	Manifest      manifest.Manifest
	CommittedAt   time.Time // timestamp of the last successful commit
	LastResult    string    // "ok" or "failure: <reason>" for the most recent attempt
	LastAttemptAt time.Time
}

// Run is one historical sync attempt, kept for operational visibility
// alongside the authoritative PriorState.
type Run struct {
	ID        int64
	Repo      string
	StartTime time.Time
	EndTime   time.Time
	Status    string // "ok" or "failure: <reason>"
	Packages  int64
	Bytes     int64
}
