// Package git fetches the upstream repository state that the mirror is
// synchronized against. It maintains a persistent clone under the state
// directory and returns, per fetch, the resolved revision and the on-disk
// working tree root for the configured subpath.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/driftsync/gitmirrord/internal/config"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks -source=fetcher.go Fetcher

const (
	// CheckoutDirName is the directory under the state dir holding the clone
	CheckoutDirName = "repo"

	remoteName = "origin"
)

// Checkout is the result of one fetch: the resolved revision and the
// directory holding the working tree for the configured repository subpath.
// The root is owned by the fetcher and is overwritten by the next fetch;
// callers must finish reading it within the same sync cycle.
type Checkout struct {
	// Revision is the commit SHA the working tree was reset to
	Revision string

	// Root is the absolute path of the working tree subpath to mirror
	Root string
}

// Fetcher retrieves the latest upstream state
type Fetcher interface {
	// Fetch updates the local clone from the remote and returns the
	// checkout for the configured ref. A remote that is already up to
	// date is a successful fetch.
	Fetch(ctx context.Context) (*Checkout, error)
}

// defaultFetcher keeps a persistent clone and force-resets it on each fetch
type defaultFetcher struct {
	cfg      *config.RepoConfig
	cloneDir string
	logger   *slog.Logger

	// defaultBranch caches the remote default branch, resolved once when
	// no branch, tag or commit is configured
	defaultBranch string
}

// NewFetcher creates a fetcher that clones into cloneDir on first use
func NewFetcher(cfg *config.RepoConfig, cloneDir string) Fetcher {
	return &defaultFetcher{
		cfg:      cfg,
		cloneDir: cloneDir,
		logger:   slog.With("component", "git"),
	}
}

// Fetch opens or creates the clone, updates it from the remote and resets
// the working tree to the configured ref. A clone that cannot be opened or
// fetched is removed and re-cloned once before giving up.
func (f *defaultFetcher) Fetch(ctx context.Context) (*Checkout, error) {
	repo, err := f.openOrClone(ctx)
	if err != nil {
		return nil, err
	}

	if err := f.fetchRemote(ctx, repo); err != nil {
		// A broken object store surfaces here. Re-clone once; transport
		// and auth failures will simply fail again and bubble up.
		f.logger.Warn("Fetch failed, re-cloning repository", "error", err)
		if repo, err = f.reclone(ctx); err != nil {
			return nil, err
		}
		if err := f.fetchRemote(ctx, repo); err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", f.cfg.URL, err)
		}
	}

	hash, err := f.resolveRevision(repo)
	if err != nil {
		return nil, err
	}

	if err := resetWorktree(repo, hash); err != nil {
		return nil, err
	}

	root, err := f.resolveRoot()
	if err != nil {
		return nil, err
	}

	return &Checkout{
		Revision: hash.String(),
		Root:     root,
	}, nil
}

// openOrClone opens the persistent clone, creating it on first use. An
// unreadable clone directory is discarded and cloned fresh.
func (f *defaultFetcher) openOrClone(ctx context.Context) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(f.cloneDir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		f.logger.Warn("Existing clone is unreadable, re-cloning", "dir", f.cloneDir, "error", err)
	}
	return f.reclone(ctx)
}

// reclone removes the clone directory and clones the remote from scratch
func (f *defaultFetcher) reclone(ctx context.Context) (*gogit.Repository, error) {
	if err := os.RemoveAll(f.cloneDir); err != nil {
		return nil, fmt.Errorf("failed to remove clone directory %s: %w", f.cloneDir, err)
	}

	auth, err := f.authMethod()
	if err != nil {
		return nil, err
	}

	f.logger.Info("Cloning repository", "url", f.cfg.URL, "dir", f.cloneDir)
	repo, err := gogit.PlainCloneContext(ctx, f.cloneDir, false, &gogit.CloneOptions{
		URL:  f.cfg.URL,
		Auth: auth,
		Tags: gogit.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", f.cfg.URL, err)
	}

	return repo, nil
}

// fetchRemote updates all remote refs and tags. An already up-to-date
// remote is success.
func (f *defaultFetcher) fetchRemote(ctx context.Context, repo *gogit.Repository) error {
	auth, err := f.authMethod()
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remoteName,
		Auth:       auth,
		Force:      true,
		Tags:       gogit.AllTags,
		Prune:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// authMethod builds HTTP basic auth from the configuration. Credentials are
// resolved on every call so that rotated token files take effect without a
// restart.
func (f *defaultFetcher) authMethod() (transport.AuthMethod, error) {
	if f.cfg.Auth == nil {
		return nil, nil
	}

	password, err := f.cfg.Auth.GetPassword()
	if err != nil {
		return nil, err
	}

	return &githttp.BasicAuth{
		Username: f.cfg.Auth.GetUsername(),
		Password: password,
	}, nil
}

// resolveRevision resolves the configured ref to a commit hash. With no
// branch, tag or commit configured, the remote default branch is tracked.
func (f *defaultFetcher) resolveRevision(repo *gogit.Repository) (plumbing.Hash, error) {
	var rev plumbing.Revision
	switch {
	case f.cfg.Commit != "":
		rev = plumbing.Revision(f.cfg.Commit)
	case f.cfg.Tag != "":
		rev = plumbing.Revision(plumbing.NewTagReferenceName(f.cfg.Tag))
	case f.cfg.Branch != "":
		rev = plumbing.Revision(plumbing.NewRemoteReferenceName(remoteName, f.cfg.Branch))
	default:
		branch, err := f.remoteDefaultBranch(repo)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		rev = plumbing.Revision(plumbing.NewRemoteReferenceName(remoteName, branch))
	}

	hash, err := repo.ResolveRevision(rev)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve revision %q: %w", rev, err)
	}
	return *hash, nil
}

// remoteDefaultBranch determines which branch to track when none is
// configured: the branch the remote's HEAD points at. The result is cached
// for the fetcher lifetime.
func (f *defaultFetcher) remoteDefaultBranch(repo *gogit.Repository) (string, error) {
	if f.defaultBranch != "" {
		return f.defaultBranch, nil
	}

	remote, err := repo.Remote(remoteName)
	if err != nil {
		return "", fmt.Errorf("failed to get remote %s: %w", remoteName, err)
	}

	auth, err := f.authMethod()
	if err != nil {
		return "", err
	}

	refs, err := remote.List(&gogit.ListOptions{Auth: auth})
	if err != nil {
		return "", fmt.Errorf("failed to list remote refs: %w", err)
	}

	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			target := ref.Target()
			if target.IsBranch() {
				f.defaultBranch = target.Short()
				return f.defaultBranch, nil
			}
		}
	}

	return "", fmt.Errorf("remote %s does not advertise a default branch", remoteName)
}

// resetWorktree force-checks-out the commit and removes local modifications
// and untracked files, so the working tree is exactly the commit's tree
func resetWorktree(repo *gogit.Repository, hash plumbing.Hash) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", hash, err)
	}

	if err := wt.Reset(&gogit.ResetOptions{Commit: hash, Mode: gogit.HardReset}); err != nil {
		return fmt.Errorf("failed to reset worktree to %s: %w", hash, err)
	}

	if err := wt.Clean(&gogit.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to clean worktree: %w", err)
	}

	return nil
}

// resolveRoot returns the working tree directory to mirror, applying the
// configured repository subpath
func (f *defaultFetcher) resolveRoot() (string, error) {
	root := f.cloneDir
	if f.cfg.Path != "" {
		root = filepath.Join(f.cloneDir, filepath.FromSlash(f.cfg.Path))
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("configured repo path %q not found in repository: %w", f.cfg.Path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("configured repo path %q is not a directory", f.cfg.Path)
	}

	return root, nil
}
