// Package mirror keeps a target directory identical to a source directory.
// It computes an ordered plan of file operations and applies it with atomic
// per-file writes. There is no rollback: atomicity across a whole sync comes
// from committing the revision only after a full apply, and a partial apply
// is repaired by the next cycle.
package mirror

import (
	"context"
	"io/fs"
	"path"
)

//go:generate mockgen -destination=mocks/mock_mirror.go -package=mocks -source=mirror.go Syncer

// OpKind identifies a mirror operation
type OpKind string

const (
	// OpCreate adds a file that does not exist in the target
	OpCreate OpKind = "create"

	// OpUpdate replaces a target file whose content, mode or link target differs
	OpUpdate OpKind = "update"

	// OpDelete removes a target path that no longer exists in the source
	OpDelete OpKind = "delete"
)

// FileOp is a single mirror operation on a relative path
type FileOp struct {
	// Kind is the operation type
	Kind OpKind

	// Path is relative to the source and target roots, slash-separated
	Path string

	// Mode is the source file mode for creates and updates
	Mode fs.FileMode

	// LinkTarget is set when the source entry is a symlink
	LinkTarget string

	// sourcePath is the absolute source path for creates and updates
	sourcePath string
}

// Plan is an ordered set of mirror operations. Creates and updates are
// applied first in path order, deletions after, children before parents.
type Plan struct {
	Creates []FileOp
	Updates []FileOp
	Deletes []FileOp
}

// Empty reports whether the plan contains no operations
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Size returns the total number of operations in the plan
func (p *Plan) Size() int {
	return len(p.Creates) + len(p.Updates) + len(p.Deletes)
}

// Syncer mirrors a source working tree into the target directory
type Syncer interface {
	// Plan computes the operations needed to make the target identical
	// to the source rooted at sourceRoot
	Plan(ctx context.Context, sourceRoot string) (*Plan, error)

	// Apply executes the plan in order. It returns true when the plan
	// contained at least one operation, i.e. the target content changed.
	// The first failing operation aborts the apply.
	Apply(ctx context.Context, plan *Plan) (bool, error)
}

// defaultSyncer implements Syncer for a fixed target directory
type defaultSyncer struct {
	targetDir string
	exclude   []string
}

// Option configures the syncer
type Option func(*defaultSyncer)

// WithExcludePatterns sets glob patterns for paths omitted from the mirror.
// Patterns are matched against the slash-separated relative path and against
// the base name.
func WithExcludePatterns(patterns []string) Option {
	return func(s *defaultSyncer) {
		s.exclude = patterns
	}
}

// NewSyncer creates a syncer that mirrors into targetDir
func NewSyncer(targetDir string, opts ...Option) Syncer {
	s := &defaultSyncer{
		targetDir: targetDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// excluded reports whether a relative path is omitted from the mirror
// by a configured pattern. Git metadata directories are skipped during
// the walk itself.
func (s *defaultSyncer) excluded(relPath string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
			return true
		}
	}
	return false
}

const gitDirName = ".git"
