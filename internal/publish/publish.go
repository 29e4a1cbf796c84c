// internal/publish/publish.go

// Package publish stages, commits, and pushes the run's accumulated changes
// to the remote repository. Every failure here is non-fatal to the run: the
// caller logs the error and reports overall success from task completion
// and build outcome alone.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/config"
	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
)

const (
	// DefaultBranch is the push fallback when the current branch is
	// rejected by the remote or no branch exists yet.
	DefaultBranch = "main"

	remoteName     = "origin"
	committerName  = "batchrun"
	committerEmail = "batchrun@fyrsmithlabs.com"
)

// denylist names the orchestrator's own ephemeral files. They are never
// staged and are persisted into .gitignore so later status queries skip
// them too.
var denylist = []string{".env", "tasks.yaml", "batchrun.log"}

// Notifier is the progress event sink. Satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, u notify.Update)
}

// Result describes how far publication got.
type Result struct {
	Committed  bool
	Pushed     bool
	Branch     string
	CommitHash string
	// Files is the staged path list re-read from status after staging,
	// authoritative over hook-derived state.
	Files []string
}

// Publisher owns one publication attempt over a working tree.
type Publisher struct {
	workdir   string
	remoteURL string
	token     config.Secret
	notifier  Notifier
	log       *logging.Logger
}

// New creates a publisher. remoteURL may be empty, in which case commit
// still happens but push is skipped.
func New(workdir, remoteURL string, token config.Secret, notifier Notifier, log *logging.Logger) *Publisher {
	return &Publisher{
		workdir:   workdir,
		remoteURL: remoteURL,
		token:     token,
		notifier:  notifier,
		log:       log.Named("publish"),
	}
}

// Publish runs the full sequence: ensure repo, configure identity, resolve
// remote, stage (minus denylist), commit, push with default-branch
// fallback, and report the outcome. A failure after the commit step is
// returned as a PushError so the caller can tell "nothing happened" from
// "commit succeeded, push failed".
func (p *Publisher) Publish(ctx context.Context, completedTasks []string) (*Result, error) {
	res := &Result{}

	repo, err := p.ensureRepo()
	if err != nil {
		return res, p.failCommit(ctx, completedTasks, res, err)
	}
	if err := p.configureIdentity(repo); err != nil {
		return res, p.failCommit(ctx, completedTasks, res, err)
	}
	if err := p.ensureRemote(repo); err != nil {
		return res, p.failCommit(ctx, completedTasks, res, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return res, p.failCommit(ctx, completedTasks, res, err)
	}

	status, err := wt.Status()
	if err != nil {
		return res, p.failCommit(ctx, completedTasks, res, err)
	}

	if status.IsClean() {
		// Idempotent rerun: nothing to commit, but an earlier commit may
		// still be unpushed.
		p.log.Info(ctx, "working tree clean, skipping commit")
	} else {
		if err := p.persistIgnores(); err != nil {
			p.log.Warn(ctx, "could not persist ignore entries", zap.Error(p.redactErr(err)))
		}
		// Re-query so the ignore-file update is staged and newly ignored
		// files drop out.
		status, err = wt.Status()
		if err != nil {
			return res, p.failCommit(ctx, completedTasks, res, err)
		}
		if err := p.stage(wt, status); err != nil {
			return res, p.failCommit(ctx, completedTasks, res, err)
		}

		staged, err := stagedPaths(wt)
		if err != nil {
			return res, p.failCommit(ctx, completedTasks, res, err)
		}
		res.Files = staged

		if len(staged) == 0 {
			p.log.Info(ctx, "only ephemeral files changed, skipping commit")
		} else {
			hash, err := wt.Commit(commitMessage(completedTasks, staged), &git.CommitOptions{
				Author: &object.Signature{Name: committerName, Email: committerEmail},
			})
			if err != nil {
				return res, p.failCommit(ctx, completedTasks, res, err)
			}
			res.Committed = true
			res.CommitHash = hash.String()
			p.log.Info(ctx, "changes committed",
				zap.String("commit", hash.String()),
				zap.Int("files", len(staged)),
			)
		}
	}

	branch, err := currentBranch(repo)
	if err != nil {
		p.log.Info(ctx, "no commits to publish")
		p.report(ctx, completedTasks, res, nil)
		return res, nil
	}
	res.Branch = branch

	if p.remoteURL == "" {
		p.log.Info(ctx, "no remote configured, skipping push")
		p.report(ctx, completedTasks, res, nil)
		return res, nil
	}

	if err := p.push(ctx, repo, branch); err != nil {
		pushErr := &PushError{Branch: branch, Err: p.redactErr(err)}
		p.report(ctx, completedTasks, res, pushErr)
		return res, pushErr
	}
	res.Pushed = true
	p.log.Info(ctx, "changes pushed", zap.String("branch", branch))
	p.report(ctx, completedTasks, res, nil)
	return res, nil
}

// ensureRepo opens the working tree's repository, initializing one if the
// directory has never been under version control.
func (p *Publisher) ensureRepo() (*git.Repository, error) {
	repo, err := git.PlainOpen(p.workdir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	repo, err = git.PlainInit(p.workdir, false)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return repo, nil
}

// configureIdentity pins the committer to fixed constants so published
// commits are attributable to the orchestrator, not the host user.
func (p *Publisher) configureIdentity(repo *git.Repository) error {
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read repository config: %w", err)
	}
	cfg.User.Name = committerName
	cfg.User.Email = committerEmail
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("write repository config: %w", err)
	}
	return nil
}

// ensureRemote creates the origin remote with the bearer credential
// embedded in the URL. An existing origin is left alone.
func (p *Publisher) ensureRemote(repo *git.Repository) error {
	if p.remoteURL == "" {
		return nil
	}
	if _, err := repo.Remote(remoteName); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("resolve remote: %w", err)
	}

	authURL, err := p.authenticatedURL()
	if err != nil {
		return err
	}
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{authURL},
	})
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	return nil
}

// authenticatedURL embeds the token as a bearer credential in the remote
// URL userinfo.
func (p *Publisher) authenticatedURL() (string, error) {
	u, err := url.Parse(p.remoteURL)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if p.token.IsSet() {
		u.User = url.UserPassword("x-access-token", p.token.Value())
	}
	return u.String(), nil
}

// persistIgnores appends missing denylist entries to .gitignore so future
// status queries exclude them.
func (p *Publisher) persistIgnores() error {
	path := filepath.Join(p.workdir, ".gitignore")
	existing := map[string]struct{}{}
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			existing[strings.TrimSpace(line)] = struct{}{}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read ignore file: %w", err)
	}

	var missing []string
	for _, entry := range denylist {
		if _, ok := existing[entry]; !ok {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(missing, "\n") + "\n"); err != nil {
		return fmt.Errorf("append ignore entries: %w", err)
	}
	return nil
}

// stage adds every changed path except denylisted filenames. Per-path adds
// instead of add-all keep the denylist out of the index without unstaging
// surgery.
func (p *Publisher) stage(wt *git.Worktree, status git.Status) error {
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		if denylisted(path) {
			continue
		}
		if _, err := wt.Add(path); err != nil {
			return fmt.Errorf("stage %s: %w", path, err)
		}
	}
	return nil
}

// stagedPaths re-queries status and returns the paths actually in the
// index, authoritative over everything derived earlier.
func stagedPaths(wt *git.Worktree) ([]string, error) {
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("re-query status: %w", err)
	}
	var paths []string
	for path, st := range status {
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func denylisted(path string) bool {
	base := filepath.Base(path)
	for _, entry := range denylist {
		if base == entry {
			return true
		}
	}
	return false
}

// currentBranch resolves HEAD's branch short name. A detached HEAD gets the
// default branch created at the current commit and checked out, so the push
// refspec always names an existing local ref.
func currentBranch(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}

	branchRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName(DefaultBranch), head.Hash())
	if err := repo.Storer.SetReference(branchRef); err != nil {
		return "", fmt.Errorf("create branch %s: %w", DefaultBranch, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef.Name()}); err != nil {
		return "", fmt.Errorf("checkout branch %s: %w", DefaultBranch, err)
	}
	return DefaultBranch, nil
}

// push delivers the branch upstream. A rejected push retries once against
// the default branch name when the local branch differs, covering remotes
// that only accept their default branch.
func (p *Publisher) push(ctx context.Context, repo *git.Repository, branch string) error {
	err := p.pushRefSpec(ctx, repo, branch, branch)
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if branch == DefaultBranch {
		return err
	}
	p.log.Warn(ctx, "push rejected, retrying against default branch",
		zap.String("branch", branch),
		zap.String("fallback", DefaultBranch),
		zap.Error(p.redactErr(err)),
	)
	fallbackErr := p.pushRefSpec(ctx, repo, branch, DefaultBranch)
	if fallbackErr == nil || errors.Is(fallbackErr, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return fallbackErr
}

func (p *Publisher) pushRefSpec(ctx context.Context, repo *git.Repository, local, remote string) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", local, remote))
	return repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
}

// failCommit wraps a commit-stage failure and reports the outcome before
// returning, so the observer hears about publication failures that never
// reach the push step.
func (p *Publisher) failCommit(ctx context.Context, completedTasks []string, res *Result, err error) error {
	commitErr := &CommitError{Err: p.redactErr(err)}
	p.report(ctx, completedTasks, res, commitErr)
	return commitErr
}

// report emits the final publication outcome. A publication failure at
// either stage is reported as a qualifying note on an otherwise completed
// run.
func (p *Publisher) report(ctx context.Context, completedTasks []string, res *Result, pubErr error) {
	if p.notifier == nil {
		return
	}
	u := notify.Update{
		Status:         notify.StatusCompleted,
		CompletedTasks: completedTasks,
		FilesChanged:   res.Files,
		BuildStatus:    notify.BuildStatusSuccess,
	}
	if pubErr != nil {
		u.Error = "publication failed: " + pubErr.Error()
	}
	p.notifier.Notify(ctx, u)
}

// redactErr strips the credential from error text by exact substitution.
func (p *Publisher) redactErr(err error) error {
	if err == nil || !p.token.IsSet() {
		return err
	}
	text := err.Error()
	redacted := strings.ReplaceAll(text, p.token.Value(), "[REDACTED]")
	if redacted == text {
		return err
	}
	return errors.New(redacted)
}

// commitMessage embeds the run summary: task and file counts, completed
// task IDs, and the staged file list with display truncated past 50
// entries.
func commitMessage(completedTasks, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply %d automated tasks (%d files changed)\n\n", len(completedTasks), len(files))
	fmt.Fprintf(&b, "Tasks: %s\n\nFiles:\n", strings.Join(completedTasks, ", "))

	const maxListed = 50
	listed := files
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	for _, f := range listed {
		fmt.Fprintf(&b, "  %s\n", f)
	}
	if extra := len(files) - maxListed; extra > 0 {
		fmt.Fprintf(&b, "  ... and %d more\n", extra)
	}
	return b.String()
}
