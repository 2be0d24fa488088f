package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// entry describes one path in a walked tree
type entry struct {
	mode       fs.FileMode
	size       int64
	isDir      bool
	isSymlink  bool
	linkTarget string
	absPath    string
}

// Plan computes the operations needed to make the target identical to the
// source tree rooted at sourceRoot
func (s *defaultSyncer) Plan(ctx context.Context, sourceRoot string) (*Plan, error) {
	desired, err := s.walkTree(ctx, sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to walk source tree: %w", err)
	}

	existing, err := s.walkTree(ctx, s.targetDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Target does not exist yet: everything is a create.
			existing = map[string]entry{}
		} else {
			return nil, fmt.Errorf("failed to walk target tree: %w", err)
		}
	}

	plan := &Plan{
		Creates: make([]FileOp, 0),
		Updates: make([]FileOp, 0),
		Deletes: make([]FileOp, 0),
	}

	// Directories are not planned explicitly on the create side; parent
	// directories are made as files are written. They still count as
	// desired so that existing ones are not deleted.
	desiredDirs := make(map[string]bool)
	for relPath, src := range desired {
		if src.isDir {
			desiredDirs[relPath] = true
			continue
		}
		for dir := filepath.Dir(relPath); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
			desiredDirs[dir] = true
		}
	}

	for relPath, src := range desired {
		if src.isDir {
			continue
		}

		dst, exists := existing[relPath]
		if !exists {
			plan.Creates = append(plan.Creates, newFileOp(OpCreate, relPath, src))
			continue
		}

		changed, err := entryChanged(src, dst)
		if err != nil {
			return nil, fmt.Errorf("failed to compare %s: %w", relPath, err)
		}
		if changed {
			plan.Updates = append(plan.Updates, newFileOp(OpUpdate, relPath, src))
		}
	}

	for relPath, dst := range existing {
		if dst.isDir {
			if !desiredDirs[relPath] {
				if _, isFile := desired[relPath]; !isFile {
					plan.Deletes = append(plan.Deletes, FileOp{Kind: OpDelete, Path: relPath})
				}
			}
			continue
		}
		if _, exists := desired[relPath]; !exists && !desiredDirs[relPath] {
			plan.Deletes = append(plan.Deletes, FileOp{Kind: OpDelete, Path: relPath})
		}
	}

	// Creates and updates run parents-first; deletes run children-first.
	// A descending sort on the relative path puts every child before its
	// parent because the parent is a strict prefix.
	sortOpsAscending(plan.Creates)
	sortOpsAscending(plan.Updates)
	sort.Slice(plan.Deletes, func(i, j int) bool {
		return plan.Deletes[i].Path > plan.Deletes[j].Path
	})

	return plan, nil
}

func newFileOp(kind OpKind, relPath string, src entry) FileOp {
	return FileOp{
		Kind:       kind,
		Path:       relPath,
		Mode:       src.mode,
		LinkTarget: src.linkTarget,
		sourcePath: src.absPath,
	}
}

func sortOpsAscending(ops []FileOp) {
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Path < ops[j].Path
	})
}

// walkTree collects every path under root, keyed by slash-separated
// relative path. Git metadata directories are skipped, as are configured
// exclude patterns.
func (s *defaultSyncer) walkTree(ctx context.Context, root string) (map[string]entry, error) {
	entries := make(map[string]entry)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}
		if d.Name() == gitDirName {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if s.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e := entry{
			mode:    info.Mode(),
			size:    info.Size(),
			isDir:   d.IsDir(),
			absPath: p,
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			e.isSymlink = true
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			e.linkTarget = target
		}

		entries[rel] = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// entryChanged reports whether the target entry differs from the source
// entry. Size and mode are checked before content hashes.
func entryChanged(src, dst entry) (bool, error) {
	if src.isSymlink || dst.isSymlink {
		return src.linkTarget != dst.linkTarget || src.isSymlink != dst.isSymlink, nil
	}
	if dst.isDir {
		// A directory where a file is expected is always replaced.
		return true, nil
	}
	if src.size != dst.size {
		return true, nil
	}
	if src.mode.Perm() != dst.mode.Perm() {
		return true, nil
	}

	srcHash, err := fileHash(src.absPath)
	if err != nil {
		return false, err
	}
	dstHash, err := fileHash(dst.absPath)
	if err != nil {
		return false, err
	}
	return srcHash != dstHash, nil
}

// fileHash computes the SHA256 hash of a file
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
