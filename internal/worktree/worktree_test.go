package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		require.NoError(t, cmd.Run())
	}
	run("init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "init")
	return dir
}

func TestCreateAndDeleteWorktree(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	c := New(root)

	workDir, err := c.CreateForBranch(repo, "feature-x", "main")
	require.NoError(t, err)
	assert.DirExists(t, workDir)

	require.NoError(t, c.DeleteWorktree(repo, workDir, "feature-x", true))
	assert.NoDirExists(t, workDir)

	out, err := exec.Command("git", "-C", repo, "branch", "--list", "feature-x").Output()
	require.NoError(t, err)
	assert.Empty(t, string(out))
}

func TestCreateForBranchUnknownBaseFails(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	c := New(root)

	_, err := c.CreateForBranch(repo, "feature-y", "does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not resolve base ref")
}

func TestDeleteWorktreeRefusesOutsideManagedRoot(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	c := New(root)

	outside := t.TempDir()
	err := c.DeleteWorktree(repo, outside, "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside managed root")
}
