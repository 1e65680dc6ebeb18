package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// pathLocks provides per-file mutual exclusion for read-modify-write cycles
// on the same store file within one process; acquire extends it across
// processes. Each cleaned path gets its own
// mutex, so writers to different stores never contend.
type pathLocks struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-path mutexes
}

func newPathLocks() *pathLocks {
	return &pathLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// storeLocks is shared by every FileStore so two handles on the same file
// (the orchestrator's and an in-process worker's) serialize their updates.
var storeLocks = newPathLocks()

// Lock acquires the mutex for path, creating it on first use.
func (p *pathLocks) Lock(path string) {
	key := lockKey(path)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()

	// Acquire outside the map lock to avoid contention between paths
	l.Lock()
}

// Unlock releases the mutex for path.
func (p *pathLocks) Unlock(path string) {
	key := lockKey(path)

	p.mu.Lock()
	l, ok := p.locks[key]
	p.mu.Unlock()

	if ok {
		l.Unlock()
	}
}

// LockFilePath is the advisory lock file guarding the store at path.
func LockFilePath(path string) string {
	return path + ".lock"
}

// acquire takes the in-process mutex for path, then an exclusive flock on its
// lock file so other processes (a worker running `taskflow report`) wait
// for the same read-modify-write to finish. The returned func releases both.
func (p *pathLocks) acquire(ctx context.Context, path string) (func(), error) {
	p.Lock(path)

	f, err := os.OpenFile(LockFilePath(path), os.O_CREATE|os.O_RDWR, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		// No directory yet, so no store for anyone else to race on
		return func() { p.Unlock(path) }, nil
	}
	if err != nil {
		p.Unlock(path)
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flock(ctx, f); err != nil {
		f.Close()
		p.Unlock(path)
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		p.Unlock(path)
	}, nil
}

// flock polls a non-blocking exclusive lock so ctx can end the wait.
func flock(ctx context.Context, f *os.File) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
