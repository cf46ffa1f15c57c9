// Package store implements the persistent Project/Branch registry
// (spec.md §3 "Project"/"Branch", §4.6 "Project / Branch Store").
//
// The registry is a single JSON document, atomically written (temp file in
// the same directory, fsync, rename) and guarded by an advisory file lock
// so two argus processes sharing a controller root never interleave writes
// — the same discipline the teacher applies to its routes file, generalized
// here to the whole store.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// FormatVersion is written to every persisted document so a future argus
// can detect and migrate older stores.
const FormatVersion = 1

// Branch is a single source-control branch and its working directory.
type Branch struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	WorkingDir string `json:"working_dir"`
	IsDefault  bool   `json:"is_default"`
	IsWorktree bool   `json:"is_worktree"`
	Missing    bool   `json:"missing"`
}

// Project is a registered source-control repository and its branches.
type Project struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	RepoPath          string    `json:"repo_path"`
	DefaultBaseBranch string    `json:"default_base_branch"`
	CreatedAt         time.Time `json:"created_at"`
	Branches          []*Branch `json:"branches"`
}

type document struct {
	FormatVersion int        `json:"format_version"`
	Projects      []*Project `json:"projects"`
}

// Notifier is called with a human-readable message whenever the store wants
// to surface a transient notification (corruption recovery, persist
// failure) to the app layer, per spec.md §7.
type Notifier func(msg string)

// Store is the in-memory registry, persisted to path on every mutation.
type Store struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	doc  document

	notify Notifier
}

// Load reads path into memory. A missing file yields an empty store. A file
// that exists but fails to decode is moved aside with a timestamped suffix
// (projects.json.corrupt.<unix-nanos>) and the store starts empty; notify,
// if non-nil, is called with a description of what happened.
func Load(path string, notify Notifier) (*Store, error) {
	s := &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		notify: notify,
		doc:    document{FormatVersion: FormatVersion},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		backup := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UnixNano())
		if renameErr := os.Rename(path, backup); renameErr == nil && notify != nil {
			notify(fmt.Sprintf("project store at %s was corrupt; preserved as %s, starting empty", path, backup))
		}
		return s, nil
	}
	if doc.FormatVersion == 0 {
		doc.FormatVersion = FormatVersion
	}
	s.doc = doc
	return s, nil
}

// Save persists the store atomically: write to a temp sibling, fsync,
// rename over path. Every mutating method already persists through this
// same sequence, so Save is only needed to write the store unprompted.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() (err error) {
	defer func() {
		if err != nil && s.notify != nil {
			s.notify(fmt.Sprintf("persist project store: %v", err))
		}
	}()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock project store: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".projects-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp store file: %w", err)
	}
	return nil
}

// Projects returns a snapshot slice of all projects.
func (s *Store) Projects() []*Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Project, len(s.doc.Projects))
	copy(out, s.doc.Projects)
	return out
}

// Project returns the project with the given id, or nil.
func (s *Store) Project(id string) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.doc.Projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// AddProject registers a repository at repoPath, scanning it for its
// current default branch, and persists the store.
func (s *Store) AddProject(name, repoPath string) (*Project, error) {
	branchName, err := defaultBranchOf(repoPath)
	if err != nil {
		return nil, fmt.Errorf("scan default branch: %w", err)
	}

	s.mu.Lock()
	p := &Project{
		ID:                uuid.NewString(),
		Name:              name,
		RepoPath:          repoPath,
		DefaultBaseBranch: branchName,
		CreatedAt:         time.Now(),
	}
	p.Branches = append(p.Branches, &Branch{
		ID:         uuid.NewString(),
		ProjectID:  p.ID,
		Name:       branchName,
		WorkingDir: repoPath,
		IsDefault:  true,
		IsWorktree: false,
	})
	s.doc.Projects = append(s.doc.Projects, p)
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RenameProject changes a project's display name and persists the store.
func (s *Store) RenameProject(id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findProjectLocked(id)
	if p == nil {
		return fmt.Errorf("project %q not found", id)
	}
	p.Name = newName
	return s.saveLocked()
}

// RemoveProject deletes a project and all of its branches, and persists
// the store. It does not touch the filesystem; callers that also want the
// worktrees removed must call the worktree controller first.
func (s *Store) RemoveProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, p := range s.doc.Projects {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("project %q not found", id)
	}
	s.doc.Projects = append(s.doc.Projects[:idx], s.doc.Projects[idx+1:]...)
	return s.saveLocked()
}

// AddBranch registers a branch under a project and persists the store.
func (s *Store) AddBranch(projectID, name, workingDir string, isWorktree bool) (*Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findProjectLocked(projectID)
	if p == nil {
		return nil, fmt.Errorf("project %q not found", projectID)
	}
	b := &Branch{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Name:       name,
		WorkingDir: workingDir,
		IsWorktree: isWorktree,
	}
	p.Branches = append(p.Branches, b)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveBranch deletes a branch record from its project and persists the
// store. It does not delete the working directory.
func (s *Store) RemoveBranch(projectID, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findProjectLocked(projectID)
	if p == nil {
		return fmt.Errorf("project %q not found", projectID)
	}
	idx := -1
	for i, b := range p.Branches {
		if b.ID == branchID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("branch %q not found", branchID)
	}
	p.Branches = append(p.Branches[:idx], p.Branches[idx+1:]...)
	return s.saveLocked()
}

// Refresh reconciles a project's branch records with reality: any branch
// whose working_dir has disappeared from disk is marked missing (spec.md
// §4.6). It persists the store if anything changed.
func (s *Store) Refresh(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findProjectLocked(projectID)
	if p == nil {
		return fmt.Errorf("project %q not found", projectID)
	}
	changed := false
	for _, b := range p.Branches {
		_, err := os.Stat(b.WorkingDir)
		missing := err != nil
		if missing != b.Missing {
			b.Missing = missing
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) findProjectLocked(id string) *Project {
	for _, p := range s.doc.Projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// defaultBranchOf scans a repository for its current default branch,
// preferring the symbolic ref of origin/HEAD and falling back to the
// repository's currently checked-out branch.
func defaultBranchOf(repoPath string) (string, error) {
	if out, err := exec.Command("git", "-C", repoPath, "symbolic-ref", "--short", "refs/remotes/origin/HEAD").Output(); err == nil {
		ref := strings.TrimSpace(string(out))
		if idx := strings.Index(ref, "/"); idx >= 0 {
			ref = ref[idx+1:]
		}
		if ref != "" {
			return ref, nil
		}
	}
	out, err := exec.Command("git", "-C", repoPath, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD: %w", err)
	}
	branch := strings.TrimSpace(string(out))
	if branch == "" || branch == "HEAD" {
		return "", fmt.Errorf("repository at %s has no resolvable branch (detached HEAD?)", repoPath)
	}
	return branch, nil
}
