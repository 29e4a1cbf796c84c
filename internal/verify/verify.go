// internal/verify/verify.go

// Package verify inspects the working tree to answer one question: did any
// real change happen? It reads git status only, never mutates the tree, and
// its answers are advisory cross-checks against hook-derived state.
package verify

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
)

// Verifier reports change counts for one repository working tree.
type Verifier struct {
	path string
}

// New creates a verifier rooted at path. The repository is opened lazily on
// each call so a repo initialized mid-run is still picked up.
func New(path string) *Verifier {
	return &Verifier{path: path}
}

// CountChanged returns the number of paths with any pending change:
// modified, added, deleted, renamed, or untracked. A clean tree counts
// zero.
func (v *Verifier) CountChanged(ctx context.Context) (int, error) {
	status, err := v.status(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, st := range status {
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			count++
		}
	}
	return count, nil
}

// ChangedPaths lists every path with a pending change, in git status order.
func (v *Verifier) ChangedPaths(ctx context.Context) ([]string, error) {
	status, err := v.status(ctx)
	if err != nil {
		return nil, err
	}

	var paths []string
	for path, st := range status {
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Dirty reports whether the tree has any pending change at all.
func (v *Verifier) Dirty(ctx context.Context) (bool, error) {
	n, err := v.CountChanged(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (v *Verifier) status(ctx context.Context) (git.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(v.path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", v.path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	return status, nil
}
