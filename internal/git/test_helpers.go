package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// TestRepo wraps a local repository used as a fetch remote in tests
type TestRepo struct {
	// Dir is the repository path, usable as a clone URL
	Dir string

	repo *gogit.Repository
	t    *testing.T
}

// NewTestRepo initializes an empty repository in a temporary directory.
// Local paths are valid go-git remote URLs, so the repository can serve as
// the upstream for a fetcher under test.
func NewTestRepo(t *testing.T) *TestRepo {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}

	return &TestRepo{Dir: dir, repo: repo, t: t}
}

// Commit writes the given files relative to the repository root and commits
// them, returning the commit SHA. Files map relative paths to content; a
// nil content map produces an empty commit.
func (r *TestRepo) Commit(message string, files map[string]string) string {
	r.t.Helper()

	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("Failed to get worktree: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(r.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			r.t.Fatalf("Failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			r.t.Fatalf("Failed to write file %s: %v", name, err)
		}
		if _, err := wt.Add(filepath.ToSlash(name)); err != nil {
			r.t.Fatalf("Failed to add file %s: %v", name, err)
		}
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test Author",
			Email: "test@example.com",
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("Failed to commit: %v", err)
	}

	return hash.String()
}

// Remove deletes a file and commits the deletion, returning the commit SHA
func (r *TestRepo) Remove(message, name string) string {
	r.t.Helper()

	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("Failed to get worktree: %v", err)
	}

	if _, err := wt.Remove(filepath.ToSlash(name)); err != nil {
		r.t.Fatalf("Failed to remove file %s: %v", name, err)
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test Author",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		r.t.Fatalf("Failed to commit removal: %v", err)
	}

	return hash.String()
}

// Tag creates a lightweight tag pointing at the current HEAD
func (r *TestRepo) Tag(name string) {
	r.t.Helper()

	head, err := r.repo.Head()
	if err != nil {
		r.t.Fatalf("Failed to get HEAD: %v", err)
	}

	if _, err := r.repo.CreateTag(name, head.Hash(), nil); err != nil {
		r.t.Fatalf("Failed to create tag %s: %v", name, err)
	}
}

// Head returns the current HEAD commit SHA
func (r *TestRepo) Head() string {
	r.t.Helper()

	head, err := r.repo.Head()
	if err != nil {
		r.t.Fatalf("Failed to get HEAD: %v", err)
	}
	return head.Hash().String()
}
