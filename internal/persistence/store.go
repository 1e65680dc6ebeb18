package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/taskflow/internal/scheduler"
)

// TaskStore is the durable representation of a task graph. The whole graph
// is read and written as one unit; there is no partial-update API.
type TaskStore interface {
	// Read loads the current graph.
	Read(ctx context.Context) ([]scheduler.Task, error)

	// Write atomically replaces the stored graph.
	Write(ctx context.Context, tasks []scheduler.Task) error

	// Update reads the graph, applies fn and writes the result while holding
	// the store lock for its path.
	Update(ctx context.Context, fn func([]scheduler.Task) ([]scheduler.Task, error)) error

	// Path returns the location observers can watch.
	Path() string
}

// ReadRetryConfig bounds how long Read keeps retrying unparsable content.
type ReadRetryConfig struct {
	MaxRetries      uint64        // Retries after the first attempt (default 5)
	InitialInterval time.Duration // First backoff interval (default 20ms)
	MaxInterval     time.Duration // Backoff ceiling (default 500ms)
}

// DefaultReadRetryConfig returns the default read retry configuration.
func DefaultReadRetryConfig() ReadRetryConfig {
	return ReadRetryConfig{
		MaxRetries:      5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// FileStore implements TaskStore as a JSON document on disk, replaced with
// write-to-temp then rename.
type FileStore struct {
	path   string
	retry  ReadRetryConfig
	logger *log.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithReadRetry overrides the read retry policy.
func WithReadRetry(cfg ReadRetryConfig) FileStoreOption {
	return func(s *FileStore) {
		s.retry = cfg
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *log.Logger) FileStoreOption {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFileStore creates a store at path. Parent directories are created if
// needed; the file itself is created by the first Write.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		path:   path,
		retry:  DefaultReadRetryConfig(),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the store file path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the store file is present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read loads and validates the graph. A parse failure is retried with a
// short exponential backoff in case a non-atomic writer is mid-write; if it
// persists the result is ErrStoreCorruption. A missing file fails fast with
// ErrStoreNotFound.
func (s *FileStore) Read(ctx context.Context) ([]scheduler.Task, error) {
	var tasks []scheduler.Task
	attempt := 0

	operation := func() error {
		attempt++
		data, err := os.ReadFile(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrStoreNotFound, s.path))
			}
			return backoff.Permanent(fmt.Errorf("failed to read store: %w", err))
		}

		parsed, err := decodeTasks(data)
		if err != nil {
			s.logger.Printf("WARNING: store %s unparsable (attempt %d): %v", s.path, attempt, err)
			return fmt.Errorf("%w: %v", errUnparsable, err)
		}

		if err := scheduler.Validate(parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrStoreCorruption, err))
		}

		tasks = parsed
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	policy.MaxElapsedTime = 0 // Bounded by MaxRetries instead

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.retry.MaxRetries), ctx))
	if err != nil {
		if errors.Is(err, errUnparsable) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrStoreCorruption, s.path, attempt, err)
		}
		return nil, err
	}
	return tasks, nil
}

// Write serializes the full graph and atomically replaces the store file.
func (s *FileStore) Write(ctx context.Context, tasks []scheduler.Task) error {
	unlock, err := storeLocks.acquire(ctx, s.path)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(ctx, tasks)
}

// Update performs a read-modify-write under the store lock, which other
// processes using a FileStore on the same path also honour. fn receives a
// fresh copy of the graph and returns the full graph to store.
func (s *FileStore) Update(ctx context.Context, fn func([]scheduler.Task) ([]scheduler.Task, error)) error {
	unlock, err := storeLocks.acquire(ctx, s.path)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.Read(ctx)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.write(ctx, next)
}

func (s *FileStore) write(ctx context.Context, tasks []scheduler.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized := scheduler.Normalize(tasks)
	if err := scheduler.Validate(normalized); err != nil {
		return fmt.Errorf("refusing to write invalid graph: %w", err)
	}

	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

var (
	errEmptyStore = errors.New("store file is empty")
	errUnparsable = errors.New("unparsable store content")
)

func decodeTasks(data []byte) ([]scheduler.Task, error) {
	if len(data) == 0 {
		return nil, errEmptyStore
	}
	var tasks []scheduler.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, err
	}
	return scheduler.Normalize(tasks), nil
}

// LoadTasks reads an initial task list from a JSON file in store format.
func LoadTasks(path string) ([]scheduler.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tasks, err := decodeTasks(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tasks, nil
}
