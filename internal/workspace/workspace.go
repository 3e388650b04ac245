// Package workspace allocates the private directory each execution runs in.
//
// Several processes may share one configured root. Each Manager claims an
// instance directory under it, named by a UUID and paired with a
// "<uuid>.lock" file that the Manager holds an flock on for its lifetime.
// A Workspace is created by Manager.Acquire inside that instance directory
// and must be handed back to Manager.Release on every exit path. Directory
// names are random UUIDs and are created with an exclusive mkdir, so two
// open workspaces can never share a location.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const lockSuffix = ".lock"

// ErrStorage wraps every failure to lay a workspace out on disk.
var ErrStorage = errors.New("workspace storage failure")

// Workspace is one request's directory and the source file inside it.
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string

	once sync.Once
}

// Manager owns one instance directory under a shared workspace root.
type Manager struct {
	base       string // shared root
	id         string // instance name under base
	root       string // base/id, where workspaces live
	sourceName string
	logger     *logrus.Entry

	mu   sync.Mutex
	open map[string]*Workspace
	lock *os.File // nil once closed
}

// NewManager creates the shared root if needed and claims a fresh instance
// directory inside it.
func NewManager(root, sourceName string, logger *logrus.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	id, lock, err := claimInstance(base)
	if err != nil {
		return nil, fmt.Errorf("claiming workspace instance: %w", err)
	}
	dir := filepath.Join(base, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		_ = os.Remove(lock.Name())
		lock.Close()
		return nil, fmt.Errorf("creating instance directory: %w", err)
	}

	return &Manager{
		base:       base,
		id:         id,
		root:       dir,
		sourceName: sourceName,
		logger:     logger.WithFields(logrus.Fields{"component": "workspace", "instance": id}),
		open:       make(map[string]*Workspace),
		lock:       lock,
	}, nil
}

// claimInstance creates and locks a new lock file. The lock is held before
// the instance directory exists, so a sweeper never finds the directory
// unguarded. A sweeper can unlink the file between create and lock; the
// inode comparison catches that and a new name is tried.
func claimInstance(base string) (string, *os.File, error) {
	for range 3 {
		id := uuid.NewString()
		f, err := os.OpenFile(filepath.Join(base, id+lockSuffix), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return "", nil, err
		}
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return "", nil, err
		}
		if (ok || !lockingSupported) && stillLinked(f) {
			return id, f, nil
		}
		f.Close()
	}
	return "", nil, errors.New("lock file removed while claiming it")
}

func stillLinked(f *os.File) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	named, err := os.Stat(f.Name())
	if err != nil {
		return false
	}
	return os.SameFile(held, named)
}

// Root returns the absolute directory this Manager creates workspaces under.
func (m *Manager) Root() string { return m.root }

// Acquire creates a fresh workspace holding source.
func (m *Manager) Acquire(ctx context.Context, source []byte) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStorage, dir, err)
	}

	ws := &Workspace{
		ID:         id,
		Dir:        dir,
		SourcePath: filepath.Join(dir, m.sourceName),
	}
	if err := os.WriteFile(ws.SourcePath, source, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: writing source: %v", ErrStorage, err)
	}

	m.mu.Lock()
	m.open[id] = ws
	m.mu.Unlock()

	m.logger.WithField("workspace", id).Debug("acquired")
	return ws, nil
}

// Release removes the workspace directory. Calling it more than once, or
// after the directory has already vanished, is not an error.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}

	var err error
	ws.once.Do(func() {
		m.mu.Lock()
		delete(m.open, ws.ID)
		m.mu.Unlock()

		if rmErr := os.RemoveAll(ws.Dir); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = fmt.Errorf("removing workspace %s: %w", ws.ID, rmErr)
			m.logger.WithField("workspace", ws.ID).WithError(rmErr).Error("release failed")
			return
		}
		m.logger.WithField("workspace", ws.ID).Debug("released")
	})
	return err
}

// Active reports how many workspaces are currently open.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Sweep deletes what no live Manager owns: directories in this instance
// that no open workspace claims, and instance directories whose lock file
// nobody holds any more, such as those left by a process that crashed
// mid-request. It returns how many directories it removed.
func (m *Manager) Sweep() (int, error) {
	removed, err := m.sweepOwn()
	if err != nil {
		return removed, err
	}

	entries, err := os.ReadDir(m.base)
	if err != nil {
		return removed, fmt.Errorf("reading workspace root: %w", err)
	}
	others := make(map[string]bool)
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), lockSuffix)
		if id == m.id {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			continue // not ours
		}
		others[id] = true
	}

	for id := range others {
		n, err := m.reclaim(id)
		if err != nil {
			m.logger.WithField("stale_instance", id).WithError(err).Warn("sweep failed")
			continue
		}
		removed += n
	}
	return removed, nil
}

func (m *Manager) sweepOwn() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("reading instance directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if _, ok := m.open[e.Name()]; ok {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			m.logger.WithField("workspace", e.Name()).WithError(err).Warn("sweep failed")
			continue
		}
		removed++
	}
	return removed, nil
}

// reclaim removes another instance's directory and lock file, but only if
// the lock can be taken, meaning the owning process is gone.
func (m *Manager) reclaim(id string) (int, error) {
	lockPath := filepath.Join(m.base, id+lockSuffix)
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ok, err := tryLock(f)
	if err != nil || !ok {
		return 0, err
	}

	removed := 0
	dir := filepath.Join(m.base, id)
	if _, err := os.Lstat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return 0, err
		}
		removed = 1
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return removed, err
	}
	return removed, nil
}

// Close removes the instance directory, along with any workspace still in
// it, and gives up the instance lock. Calling it again is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil {
		return nil
	}

	clear(m.open)
	err := os.RemoveAll(m.root)
	if rmErr := os.Remove(m.lock.Name()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	m.lock.Close()
	m.lock = nil
	if err != nil {
		return fmt.Errorf("closing workspace instance: %w", err)
	}
	return nil
}
