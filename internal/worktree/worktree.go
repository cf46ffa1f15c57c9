// Package worktree provisions and tears down isolated git worktrees, one
// per branch, under a single managed root (spec.md §4.7). It is grounded
// directly on the teacher's createWorktree/removeWorktree/ensureMainCheckout
// pattern, generalized to resolve an arbitrary base ref instead of always
// branching off the project's default.
package worktree

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Controller provisions worktrees under a single managed root directory.
// Every worktree it creates lives at <root>/<project-slug>/<branch-slug>;
// DeleteWorktree refuses to touch anything outside that root.
type Controller struct {
	root string
}

// New returns a Controller that manages worktrees under root.
func New(root string) *Controller {
	return &Controller{root: root}
}

var slugRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func slug(s string) string {
	s = slugRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "branch"
	}
	return s
}

// CreateForBranch provisions a worktree for branchName inside repoPath,
// branching from base (or from repoPath's current HEAD if base is empty),
// and returns the new worktree's directory.
//
// base is resolved via three strategies in order — a local branch ref, a
// local-branch revision lookup, then a generic revision-parse — matching
// git's own notion of "anything that names a commit". All three failures
// are collected into a single reported error so the caller can show the
// user exactly what was tried.
func (c *Controller) CreateForBranch(repoPath, branchName, base string) (string, error) {
	if base == "" {
		base = "HEAD"
	}
	if err := c.resolveBaseRef(repoPath, base); err != nil {
		return "", err
	}

	projectDir := slug(filepath.Base(strings.TrimSuffix(repoPath, "/")))
	workDir := filepath.Join(c.root, projectDir, slug(branchName))

	cmd := exec.Command("git", "-C", repoPath, "worktree", "add", "-b", branchName, workDir, base)
	if out, err := cmd.CombinedOutput(); err != nil {
		// branchName may already exist locally; attach the existing branch
		// to a new worktree instead of creating it, same fallback the
		// teacher's createWorktree uses.
		cmd2 := exec.Command("git", "-C", repoPath, "worktree", "add", workDir, branchName)
		if out2, err2 := cmd2.CombinedOutput(); err2 != nil {
			return "", fmt.Errorf("git worktree add (new branch) failed: %s; fallback (existing branch) also failed: %s", strings.TrimSpace(string(out)), strings.TrimSpace(string(out2)))
		}
	}
	return workDir, nil
}

// resolveBaseRef confirms ref names something checkout-able in repoPath.
func (c *Controller) resolveBaseRef(repoPath, ref string) error {
	var failures []string

	if err := exec.Command("git", "-C", repoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+ref).Run(); err == nil {
		return nil
	} else {
		failures = append(failures, fmt.Sprintf("show-ref refs/heads/%s: %v", ref, err))
	}

	if err := exec.Command("git", "-C", repoPath, "rev-parse", "--verify", ref+"^{commit}").Run(); err == nil {
		return nil
	} else {
		failures = append(failures, fmt.Sprintf("rev-parse %s^{commit}: %v", ref, err))
	}

	if err := exec.Command("git", "-C", repoPath, "rev-parse", "--verify", ref).Run(); err == nil {
		return nil
	} else {
		failures = append(failures, fmt.Sprintf("rev-parse %s: %v", ref, err))
	}

	return fmt.Errorf("could not resolve base ref %q: %s", ref, strings.Join(failures, "; "))
}

// DeleteWorktree removes the worktree at path from repoPath, and optionally
// deletes branchName too. path is re-canonicalized immediately before
// deletion and refused unless it resolves under the managed root — this
// closes the window between an earlier path check and the actual removal
// during which a symlink swap could redirect the deletion elsewhere.
func (c *Controller) DeleteWorktree(repoPath, path, branchName string, alsoDeleteBranch bool) error {
	managedRoot, err := filepath.EvalSymlinks(c.root)
	if err != nil {
		return fmt.Errorf("resolve managed root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve worktree path: %w", err)
	}
	rel, err := filepath.Rel(managedRoot, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete %q: outside managed root %q", path, c.root)
	}

	if out, err := exec.Command("git", "-C", repoPath, "worktree", "remove", "--force", canonical).CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree remove: %s", strings.TrimSpace(string(out)))
	}

	if alsoDeleteBranch && branchName != "" {
		if out, err := exec.Command("git", "-C", repoPath, "branch", "-D", branchName).CombinedOutput(); err != nil {
			return fmt.Errorf("git branch -D %s: %s", branchName, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
