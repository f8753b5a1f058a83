// Package git provides the git operations revwatch consumes: repository
// detection, branch lookup and diffs against a base branch.
package git

import (
	"context"
	"path"
	"strings"

	"github.com/colonyops/revwatch/internal/core/review"
)

// Provider answers questions about a working tree. Every operation except
// IsRepo fails with a review.KindGit error (or its KindNotAGitRepo sub-kind).
type Provider interface {
	// IsRepo reports whether dir is inside a git work tree. Failures degrade to false.
	IsRepo(ctx context.Context, dir string) bool
	// TopLevel returns the root of the work tree containing dir.
	TopLevel(ctx context.Context, dir string) (string, error)
	// GetDiff diffs the working tree of dir against baseBranch.
	GetDiff(ctx context.Context, dir, baseBranch string) (Diff, error)
	// HeadCommit returns the full hash of HEAD.
	HeadCommit(ctx context.Context, dir string) (string, error)
	// CurrentBranch returns the checked out branch, or the short HEAD hash when detached.
	CurrentBranch(ctx context.Context, dir string) (string, error)
	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, dir string) (string, error)
	// RemoteURL returns the origin URL, or "" when there is no origin remote.
	RemoteURL(ctx context.Context, dir string) (string, error)
	// ListBranches returns local branch names.
	ListBranches(ctx context.Context, dir string) ([]string, error)
}

// Diff is a raw unified diff plus its per-file summary.
type Diff struct {
	Raw   string
	Files []review.FileSummary
}

// ExtractRepoName returns the repository name from a remote URL.
//
//	git@github.com:colonyops/revwatch.git -> revwatch
//	https://github.com/colonyops/revwatch -> revwatch
func ExtractRepoName(remote string) string {
	remote = strings.TrimSpace(remote)
	remote = strings.TrimSuffix(remote, "/")
	remote = strings.TrimSuffix(remote, ".git")
	if remote == "" {
		return ""
	}
	if i := strings.LastIndexAny(remote, "/:"); i >= 0 {
		return remote[i+1:]
	}
	return path.Base(remote)
}
