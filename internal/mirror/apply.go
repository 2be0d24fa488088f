package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	dirMode = 0750
)

// Apply executes the plan in order: creates, then updates, then deletes.
// The first failing operation aborts the apply with the operation and path
// in the error. Deletions of already-missing paths are tolerated, so
// re-applying a plan is idempotent.
func (s *defaultSyncer) Apply(ctx context.Context, plan *Plan) (bool, error) {
	if plan.Empty() {
		return false, nil
	}

	if err := os.MkdirAll(s.targetDir, dirMode); err != nil {
		return false, fmt.Errorf("failed to create target directory: %w", err)
	}

	for _, op := range plan.Creates {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := s.writeEntry(op); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", op.Path, err)
		}
	}

	for _, op := range plan.Updates {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := s.writeEntry(op); err != nil {
			return false, fmt.Errorf("failed to update %s: %w", op.Path, err)
		}
	}

	for _, op := range plan.Deletes {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		dst := filepath.Join(s.targetDir, filepath.FromSlash(op.Path))
		// ENOTDIR means an ancestor was already replaced by a file, so the
		// path is effectively gone.
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) && !errors.Is(err, syscall.ENOTDIR) {
			return false, fmt.Errorf("failed to delete %s: %w", op.Path, err)
		}
	}

	return true, nil
}

// writeEntry places one source entry at its target path
func (s *defaultSyncer) writeEntry(op FileOp) error {
	dst := filepath.Join(s.targetDir, filepath.FromSlash(op.Path))

	// A directory sitting where a file or symlink belongs is replaced.
	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}

	if err := ensureParentDir(s.targetDir, dst); err != nil {
		return err
	}

	if op.LinkTarget != "" {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(op.LinkTarget, dst)
	}

	return copyFile(op.sourcePath, dst, op)
}

// ensureParentDir creates the parent directory of dst. When a regular file
// occupies a path component where a directory is needed (the source turned
// a file into a directory), the file is removed and the mkdir retried once.
func ensureParentDir(root, dst string) error {
	parent := filepath.Dir(dst)
	err := os.MkdirAll(parent, dirMode)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.ENOTDIR) {
		return err
	}

	// Walk from the target root towards the parent and clear the first
	// non-directory component.
	rel, relErr := filepath.Rel(root, parent)
	if relErr != nil {
		return err
	}
	current := root
	for _, component := range strings.Split(filepath.ToSlash(rel), "/") {
		current = filepath.Join(current, component)
		info, statErr := os.Lstat(current)
		if statErr != nil {
			break
		}
		if !info.IsDir() {
			if rmErr := os.Remove(current); rmErr != nil {
				return rmErr
			}
			break
		}
	}

	return os.MkdirAll(parent, dirMode)
}

// copyFile copies a file from src to dst with an atomic write: the content
// goes to a temp file in the destination directory, gets the source mode,
// and is renamed into place.
func copyFile(src, dst string, op FileOp) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".gitmirrord-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(op.Mode.Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// A symlink at the destination must not be followed by the rename.
	if info, err := os.Lstat(dst); err == nil && !info.IsDir() && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}

	return os.Rename(tmpPath, dst)
}
