package store

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

func TestLoadMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "projects.json"), nil)
	require.NoError(t, err)
	assert.Empty(t, s.Projects())
}

func TestLoadCorruptFileMovesAsideAndNotifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var notified string
	s, err := Load(path, func(msg string) { notified = msg })
	require.NoError(t, err)
	assert.Empty(t, s.Projects())
	assert.NotEmpty(t, notified)

	matches, _ := filepath.Glob(path + ".corrupt.*")
	assert.Len(t, matches, 1)
}

func TestAddProjectScansDefaultBranch(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "projects.json"), nil)
	require.NoError(t, err)

	p, err := s.AddProject("demo", repo)
	require.NoError(t, err)
	assert.Equal(t, "main", p.DefaultBaseBranch)
	require.Len(t, p.Branches, 1)
	assert.True(t, p.Branches[0].IsDefault)
	assert.Equal(t, repo, p.Branches[0].WorkingDir)

	reloaded, err := Load(filepath.Join(dir, "projects.json"), nil)
	require.NoError(t, err)
	require.Len(t, reloaded.Projects(), 1)
	assert.Equal(t, p.ID, reloaded.Projects()[0].ID)
}

func TestRenameAndRemoveProject(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "projects.json"), nil)
	require.NoError(t, err)
	p, err := s.AddProject("demo", repo)
	require.NoError(t, err)

	require.NoError(t, s.RenameProject(p.ID, "renamed"))
	assert.Equal(t, "renamed", s.Project(p.ID).Name)

	require.NoError(t, s.RemoveProject(p.ID))
	assert.Nil(t, s.Project(p.ID))
}

func TestAddAndRemoveBranch(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "projects.json"), nil)
	require.NoError(t, err)
	p, err := s.AddProject("demo", repo)
	require.NoError(t, err)

	b, err := s.AddBranch(p.ID, "feature-x", filepath.Join(dir, "wt-feature-x"), true)
	require.NoError(t, err)
	require.Len(t, s.Project(p.ID).Branches, 2)

	require.NoError(t, s.RemoveBranch(p.ID, b.ID))
	assert.Len(t, s.Project(p.ID).Branches, 1)
}

func TestRefreshMarksMissingBranches(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "projects.json"), nil)
	require.NoError(t, err)
	p, err := s.AddProject("demo", repo)
	require.NoError(t, err)

	wtDir := filepath.Join(dir, "wt-feature-x")
	require.NoError(t, os.Mkdir(wtDir, 0o755))
	_, err = s.AddBranch(p.ID, "feature-x", wtDir, true)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(wtDir))
	require.NoError(t, s.Refresh(p.ID))

	branches := s.Project(p.ID).Branches
	found := false
	for _, b := range branches {
		if b.Name == "feature-x" {
			found = true
			assert.True(t, b.Missing)
		}
	}
	assert.True(t, found)
}
