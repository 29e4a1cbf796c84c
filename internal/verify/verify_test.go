// internal/verify/verify_test.go
package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	writeFile(t, dir, "README.md", "hello\n")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	require.NoError(t, err)

	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCountChangedCleanTree(t *testing.T) {
	dir := initRepo(t)
	v := New(dir)

	n, err := v.CountChanged(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	dirty, err := v.Dirty(context.Background())
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestCountChangedSeesModifiedAndUntracked(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "README.md", "changed\n")
	writeFile(t, dir, "new/file.go", "package file\n")

	v := New(dir)
	n, err := v.CountChanged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	paths, err := v.ChangedPaths(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"README.md", "new/file.go"}, paths)
}

func TestCountChangedSeesDeleted(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "README.md")))

	v := New(dir)
	n, err := v.CountChanged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVerifierNotARepository(t *testing.T) {
	v := New(t.TempDir())
	_, err := v.CountChanged(context.Background())
	require.Error(t, err)
}

func TestVerifierCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := New(initRepo(t))
	_, err := v.CountChanged(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
