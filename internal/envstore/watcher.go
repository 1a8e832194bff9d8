package envstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bunrunner/bunrunner/internal/log"
)

// debounceDelay coalesces the burst of events an editor or atomic rename
// produces into a single reload.
const debounceDelay = 200 * time.Millisecond

type watcher struct {
	fsw      *fsnotify.Watcher
	store    *Store
	onChange func()

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending *time.Timer
}

// Watch starts watching the dotenv file for external edits. After each
// change the store reloads and onChange runs. The watch survives atomic
// replacement because it is registered on the parent directory.
func (s *Store) Watch(onChange func()) error {
	if s.watch != nil {
		return fmt.Errorf("env store already watching %s", s.path)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating env dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		fsw:      fsw,
		store:    s,
		onChange: onChange,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.watch = w
	go w.run(ctx)
	return nil
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("env file watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// relevant reports whether the event touches the env file itself. The
// directory watch sees every sibling, so filter by name.
func (w *watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != filepath.Base(w.store.path) {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceDelay, w.fire)
}

func (w *watcher) fire() {
	if err := w.store.Reload(); err != nil {
		log.Warn("env file reload failed", "error", err)
		return
	}
	log.Debug("env file reloaded", "path", w.store.path)
	if w.onChange != nil {
		w.onChange()
	}
}

func (w *watcher) close() error {
	w.cancel()
	err := w.fsw.Close()
	<-w.done
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return err
}
