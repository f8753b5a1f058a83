package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/pkg/executil"
)

// Executor implements Provider using the git command-line tool.
type Executor struct {
	gitPath string
	exec    executil.Executor
}

var _ Provider = (*Executor)(nil)

// NewExecutor creates a new git executor with the specified git binary path.
func NewExecutor(gitPath string, exec executil.Executor) *Executor {
	if gitPath == "" {
		gitPath = "git"
	}
	return &Executor{gitPath: gitPath, exec: exec}
}

// run executes git in dir and classifies failures.
func (e *Executor) run(ctx context.Context, op, dir string, args ...string) (string, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, args...)
	if err != nil {
		return "", classify(op, err)
	}
	return string(out), nil
}

func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not a git repository") {
		return review.E(review.KindNotAGitRepo, op, err)
	}
	return review.E(review.KindGit, op, err)
}

func (e *Executor) IsRepo(ctx context.Context, dir string) bool {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func (e *Executor) TopLevel(ctx context.Context, dir string) (string, error) {
	out, err := e.run(ctx, "git rev-parse", dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	root := strings.TrimSpace(out)
	if root == "" {
		return "", review.E(review.KindGit, "git rev-parse", errors.New("empty work tree root"))
	}
	return filepath.FromSlash(root), nil
}

func (e *Executor) GetDiff(ctx context.Context, dir, baseBranch string) (Diff, error) {
	if baseBranch == "" {
		return Diff{}, review.E(review.KindGit, "git diff", errors.New("base branch required"))
	}

	// Diff the working tree (staged and unstaged edits included) against
	// the base branch tip.
	raw, err := e.run(ctx, "git diff", dir,
		"diff", "--no-color", "--no-ext-diff", "-M", baseBranch, "--")
	if err != nil {
		return Diff{}, err
	}

	files, err := ParseFileSummaries(raw)
	if err != nil {
		return Diff{}, review.E(review.KindGit, "parse diff", err)
	}

	return Diff{Raw: raw, Files: files}, nil
}

func (e *Executor) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := e.run(ctx, "git rev-parse", dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *Executor) CurrentBranch(ctx context.Context, dir string) (string, error) {
	// Try to get branch name first
	out, err := e.run(ctx, "git branch", dir, "branch", "--show-current")
	if err != nil {
		return "", err
	}

	branch := strings.TrimSpace(out)
	if branch != "" {
		return branch, nil
	}

	// Empty branch name means detached HEAD - get short commit SHA
	out, err = e.run(ctx, "git rev-parse", dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

func (e *Executor) DefaultBranch(ctx context.Context, dir string) (string, error) {
	if out, err := e.exec.RunDir(ctx, dir, e.gitPath, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		if ref := strings.TrimSpace(string(out)); ref != "" {
			return strings.TrimPrefix(ref, "origin/"), nil
		}
	}

	branches, err := e.ListBranches(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{"main", "master"} {
		for _, b := range branches {
			if b == candidate {
				return candidate, nil
			}
		}
	}
	return "main", nil
}

func (e *Executor) RemoteURL(ctx context.Context, dir string) (string, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "remote", "get-url", "origin")
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such remote") {
			return "", nil
		}
		return "", classify("git remote", fmt.Errorf("get remote url: %w", err))
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Executor) ListBranches(ctx context.Context, dir string) ([]string, error) {
	out, err := e.run(ctx, "git branch", dir, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}

	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "(") {
			continue
		}
		branches = append(branches, line)
	}
	return branches, nil
}
