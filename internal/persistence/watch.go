package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Watch emits a snapshot of the graph every time the store file is replaced.
// The parent directory is watched because atomic renames replace the inode.
// Bursts of events are coalesced by debounce. The first snapshot is sent
// immediately if the store exists. The channel closes when ctx is done.
func Watch(ctx context.Context, store TaskStore, debounce time.Duration, logger *log.Logger) (<-chan []scheduler.Task, error) {
	if logger == nil {
		logger = log.Default()
	}
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	target := filepath.Clean(store.Path())
	if err := fsWatcher.Add(filepath.Dir(target)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	out := make(chan []scheduler.Task, 1)
	trigger := make(chan struct{}, 1)
	fire := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	go func() {
		defer close(out)
		defer fsWatcher.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		fire() // Initial snapshot

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, fire)

			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Printf("WARNING: store watcher error: %v", err)

			case <-trigger:
				tasks, err := store.Read(ctx)
				if err != nil {
					if ctx.Err() == nil && !errors.Is(err, ErrStoreNotFound) {
						logger.Printf("WARNING: store watcher read failed: %v", err)
					}
					continue
				}
				select {
				case out <- tasks:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
