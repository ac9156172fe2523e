// Package workspace prepares isolated checkouts of task repositories.
//
// Each repository is cloned once into a shared cache; every solving attempt
// then gets its own detached git worktree at the instance's base commit, so
// concurrent attempts against the same repository never share a working tree.
package workspace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// ErrCloneFailed marks a repository that could not be cloned or checked out
var ErrCloneFailed = errors.New("clone failed")

// Timeouts for git subprocesses
const (
	CloneTimeout    = 180 * time.Second
	FetchTimeout    = 60 * time.Second
	CheckoutTimeout = 30 * time.Second
	ApplyTimeout    = 30 * time.Second
)

// Workspace is one attempt's private checkout
type Workspace struct {
	Path     string
	RepoDir  string
	Revision string
}

// Manager owns the clone cache and the per-attempt worktrees
type Manager struct {
	reposDir     string
	worktreesDir string
	urlFor       func(repo string) string
	log          *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithURLResolver overrides how a repository name maps to a clone URL
func WithURLResolver(fn func(repo string) string) Option {
	return func(m *Manager) { m.urlFor = fn }
}

// NewManager creates a Manager rooted at workDir
func NewManager(workDir string, opts ...Option) *Manager {
	m := &Manager{
		reposDir:     filepath.Join(workDir, "repos"),
		worktreesDir: filepath.Join(workDir, "worktrees"),
		urlFor: func(repo string) string {
			return fmt.Sprintf("https://github.com/%s.git", repo)
		},
		log:   slog.Default().With("component", "workspace"),
		locks: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) repoLock(repo string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[repo]
	if !ok {
		l = &sync.Mutex{}
		m.locks[repo] = l
	}
	return l
}

// RepoDir returns the cache directory for a repository
func (m *Manager) RepoDir(inst domain.TaskInstance) string {
	return filepath.Join(m.reposDir, inst.RepoDirName())
}

// Prepare makes sure the repository is cloned and the base commit is present,
// then adds a detached worktree for this attempt.
func (m *Manager) Prepare(ctx context.Context, inst domain.TaskInstance) (*Workspace, error) {
	lock := m.repoLock(inst.Repo)
	lock.Lock()
	defer lock.Unlock()

	repoDir, err := m.ensureClone(ctx, inst)
	if err != nil {
		return nil, err
	}

	rev := inst.BaseCommit
	if rev == "" {
		rev = "HEAD"
	} else if err := m.ensureCommit(ctx, repoDir, rev); err != nil {
		return nil, fmt.Errorf("%w: %s@%s: %v", ErrCloneFailed, inst.Repo, rev, err)
	}

	if err := os.MkdirAll(m.worktreesDir, 0755); err != nil {
		return nil, fmt.Errorf("creating worktree dir: %w", err)
	}
	wtPath := filepath.Join(m.worktreesDir, fmt.Sprintf("%s-%s", safeName(inst.InstanceID), randomSuffix()))

	_, _ = git(ctx, repoDir, CheckoutTimeout, "worktree", "prune")
	if out, err := git(ctx, repoDir, CheckoutTimeout, "worktree", "add", "--detach", wtPath, rev); err != nil {
		return nil, fmt.Errorf("%w: git worktree add %s: %s: %v", ErrCloneFailed, rev, out, err)
	}

	m.log.Debug("workspace ready", "instance", inst.InstanceID, "path", wtPath, "rev", rev)
	return &Workspace{Path: wtPath, RepoDir: repoDir, Revision: rev}, nil
}

// ensureClone clones the repository unless a valid clone already exists.
// A clone that fails but leaves valid repository metadata behind (another
// process won the race) is accepted.
func (m *Manager) ensureClone(ctx context.Context, inst domain.TaskInstance) (string, error) {
	dest := m.RepoDir(inst)
	if isGitRepo(ctx, dest) {
		return dest, nil
	}

	if err := os.MkdirAll(m.reposDir, 0755); err != nil {
		return "", fmt.Errorf("creating repos dir: %w", err)
	}

	url := m.urlFor(inst.Repo)
	m.log.Info("cloning repository", "repo", inst.Repo, "url", url)
	out, err := git(ctx, m.reposDir, CloneTimeout, "clone", "--depth=1", "--no-single-branch", url, dest)
	if err != nil {
		if isGitRepo(ctx, dest) {
			return dest, nil
		}
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("%w: %s: %s: %v", ErrCloneFailed, inst.Repo, strings.TrimSpace(out), err)
	}
	return dest, nil
}

// ensureCommit fetches rev into a shallow clone when it is not present yet
func (m *Manager) ensureCommit(ctx context.Context, repoDir, rev string) error {
	if _, err := git(ctx, repoDir, CheckoutTimeout, "cat-file", "-e", rev+"^{commit}"); err == nil {
		return nil
	}
	if out, err := git(ctx, repoDir, FetchTimeout, "fetch", "--depth=1", "origin", rev); err != nil {
		return fmt.Errorf("fetch: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

// Remove deletes an attempt's worktree
func (m *Manager) Remove(ctx context.Context, ws *Workspace) error {
	if ws == nil {
		return nil
	}
	if out, err := git(ctx, ws.RepoDir, CheckoutTimeout, "worktree", "remove", "--force", ws.Path); err != nil {
		// fall back to plain removal so disk does not fill up during long runs
		_ = os.RemoveAll(ws.Path)
		_, _ = git(ctx, ws.RepoDir, CheckoutTimeout, "worktree", "prune")
		return fmt.Errorf("git worktree remove: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

// List returns the worktree paths of a cached repository that live under this manager
func (m *Manager) List(ctx context.Context, inst domain.TaskInstance) ([]string, error) {
	out, err := git(ctx, m.RepoDir(inst), CheckoutTimeout, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			if strings.HasPrefix(path, m.worktreesDir) {
				paths = append(paths, path)
			}
		}
	}
	return paths, nil
}

// ApplyPatch checks the patch against dir and applies it only if the check
// passes, so a failing patch never leaves a half-applied tree.
func ApplyPatch(ctx context.Context, dir, patch string) (bool, string) {
	if !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}
	f, err := os.CreateTemp("", "swe-orch-*.patch")
	if err != nil {
		return false, fmt.Sprintf("creating patch file: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(patch); err != nil {
		f.Close()
		return false, fmt.Sprintf("writing patch file: %v", err)
	}
	f.Close()

	if out, err := git(ctx, dir, ApplyTimeout, "apply", "--check", "--recount", f.Name()); err != nil {
		return false, "Patch dry-run failed:\n" + out
	}
	out, err := git(ctx, dir, ApplyTimeout, "apply", "--recount", f.Name())
	if err != nil {
		return false, "Patch apply failed:\n" + out
	}
	return true, out
}

func isGitRepo(ctx context.Context, dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	_, err := git(ctx, dir, CheckoutTimeout, "rev-parse", "--git-dir")
	return err == nil
}

func git(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func safeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(s)
}

func randomSuffix() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
