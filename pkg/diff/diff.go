// Package diff defines the change-detection contract used for gating.
//
// A Source reports the set of file paths modified between two revisions.
// Sources should return repo-relative paths with forward-slash separators;
// callers normalize defensively before matching.
package diff

import (
	"context"
)

// Source abstracts changed-file detection between two revisions.
//
// Implementations should:
//   - Return repo-relative paths for every file added, modified, or removed
//   - Report ErrRangeUnresolvable when the revision range cannot be compared
//     (unknown revision, shallow history, first run)
//   - Be safe for concurrent use
type Source interface {
	// ChangedFiles returns the paths modified between base and head.
	// Returns an error wrapping ErrRangeUnresolvable when the range cannot
	// be evaluated; callers must treat that case as "everything may have
	// changed" (fail open), never as "nothing changed".
	ChangedFiles(ctx context.Context, base, head string) ([]string, error)
}

// SourceType identifies a change-detection source.
type SourceType string

const (
	// SourceGitCLI shells out to a local git checkout.
	SourceGitCLI SourceType = "git"

	// SourceGitHub uses the GitHub compare API.
	SourceGitHub SourceType = "github"
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	return string(s)
}
