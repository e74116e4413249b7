package index

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mxie/chatwrapped/internal/source"
)

// Watcher uses fsnotify to watch account dump directories for
// new or rewritten dumps and triggers a callback per account
// with debouncing.
type Watcher struct {
	root     string
	onChange func(accounts []string)
	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  map[string]time.Time
	mu       gosync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce gosync.Once
	now      func() time.Time
}

// NewWatcher creates a watcher over the accounts root that
// calls onChange with the affected account ids after the
// debounce period elapses.
func NewWatcher(
	root string, debounce time.Duration, onChange func(accounts []string),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		onChange: onChange,
		watcher:  fsw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	return w, nil
}

// WatchAccounts adds the root, each account directory and each
// existing dump directory to the watch list. Returns the number
// of directories watched and unwatched (failed to add).
func (w *Watcher) WatchAccounts() (watched int, unwatched int, err error) {
	add := func(path string) {
		if addErr := w.watcher.Add(path); addErr != nil {
			unwatched++
		} else {
			watched++
		}
	}

	add(w.root)
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return watched, unwatched, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		accountDir := filepath.Join(w.root, e.Name())
		add(accountDir)
		dumpDir := filepath.Join(accountDir, source.DumpDirName)
		if info, statErr := os.Stat(dumpDir); statErr == nil && info.IsDir() {
			add(dumpDir)
		}
	}
	return watched, unwatched, nil
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent processes a single fsnotify event, auto-watching
// newly created directories and recording the pending account.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		w.watchIfDir(event.Name)
	}

	account, ok := w.accountFor(event.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	w.pending[account] = w.now()
	w.mu.Unlock()
}

// accountFor maps a changed path to its account id. Only dump
// files count; changes to the index database itself are the
// builder's own writes and must not retrigger it.
func (w *Watcher) accountFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 || parts[1] != source.DumpDirName {
		return "", false
	}
	if !strings.HasSuffix(parts[len(parts)-1], ".jsonl") {
		return "", false
	}
	return parts[0], true
}

// watchIfDir adds a path to the watch list if it is a directory.
func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = w.watcher.Add(path)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	now := w.now()
	var ready []string
	for account, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			ready = append(ready, account)
		}
	}

	for _, account := range ready {
		delete(w.pending, account)
	}
	w.mu.Unlock()

	if len(ready) > 0 {
		log.Printf("watcher: dumps changed for %d account(s), triggering rebuild",
			len(ready))
		w.onChange(ready)
	}
}
