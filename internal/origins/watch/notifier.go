// Package watch turns fsnotify events on an origin directory into the
// debounced, payload free change signal sources deliver.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/utils"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 500 * time.Millisecond

// Filter decides whether an event is relevant.
type Filter func(event fsnotify.Event) bool

// Option configures a Notifier.
type Option func(*Notifier)

// WithSubdirs also watches the immediate subdirectories of the root, so
// rewrites inside package directories are seen.
func WithSubdirs() Option {
	return func(n *Notifier) { n.subdirs = true }
}

// WithRecursive watches every directory below the root, including ones
// created after watching started.
func WithRecursive() Option {
	return func(n *Notifier) { n.recursive = true }
}

// WithFilter drops events fn rejects.
func WithFilter(fn Filter) Option {
	return func(n *Notifier) { n.filter = fn }
}

// Notifier watches one directory once anyone subscribes.
type Notifier struct {
	root      string
	debounce  time.Duration
	logger    hclog.Logger
	subdirs   bool
	recursive bool
	filter    Filter

	// directories watched below root, owned by the event loop once started
	dirs map[string]bool

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	timer     *time.Timer
	listeners map[int]func()
	nextID    int
	done      chan struct{}
	closed    bool
}

// NewNotifier creates a notifier for root.
func NewNotifier(root string, debounce time.Duration, logger hclog.Logger, opts ...Option) *Notifier {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	n := &Notifier{
		root:      root,
		debounce:  debounce,
		logger:    logger.Named("watch").With("dir", root),
		listeners: make(map[int]func()),
		dirs:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers fn and starts watching on the first subscription.
// A directory that cannot be watched is logged and the source keeps
// working without change signals.
func (n *Notifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	if n.watcher == nil && !n.closed {
		if err := n.startLocked(); err != nil {
			n.logger.Warn("directory watch unavailable", "error", err)
		}
	}

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *Notifier) startLocked() error {
	if err := utils.EnsureDir(n.root); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(n.root); err != nil {
		w.Close()
		return err
	}
	switch {
	case n.recursive:
		n.addTree(w, n.root)
	case n.subdirs:
		entries, err := os.ReadDir(n.root)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					_ = w.Add(filepath.Join(n.root, e.Name()))
				}
			}
		}
	}
	n.watcher = w
	n.done = make(chan struct{})
	go n.loop(w, n.done)
	n.logger.Debug("watching directory")
	return nil
}

func (n *Notifier) loop(w *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			n.handle(w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			n.logger.Warn("watch error", "error", err)
		}
	}
}

// addTree watches dir and every directory below it and returns the files
// found on the way.
func (n *Notifier) addTree(w *fsnotify.Watcher, dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
			return nil
		}
		if path != filepath.Clean(n.root) {
			if err := w.Add(path); err != nil {
				n.logger.Warn("cannot watch directory", "path", path, "error", err)
				return filepath.SkipDir
			}
			n.dirs[path] = true
		}
		return nil
	})
	return files
}

func (n *Notifier) forgetTree(dir string) bool {
	if !n.dirs[dir] {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for d := range n.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(n.dirs, d)
		}
	}
	return true
}

func (n *Notifier) relevant(event fsnotify.Event) bool {
	return n.filter == nil || n.filter(event)
}

func (n *Notifier) handle(w *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			switch {
			case n.recursive:
				// files can land before the watch is added
				for _, f := range n.addTree(w, event.Name) {
					if n.relevant(fsnotify.Event{Name: f, Op: fsnotify.Create}) {
						n.schedule()
						return
					}
				}
			case n.subdirs && filepath.Dir(event.Name) == filepath.Clean(n.root):
				_ = w.Add(event.Name)
			}
		}
	}
	if n.recursive && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && n.forgetTree(event.Name) {
		n.schedule()
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}
	if !n.relevant(event) {
		return
	}
	n.schedule()
}

func (n *Notifier) schedule() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.debounce, n.fire)
}

func (n *Notifier) fire() {
	n.mu.Lock()
	listeners := make([]func(), 0, len(n.listeners))
	for _, fn := range n.listeners {
		listeners = append(listeners, fn)
	}
	closed := n.closed
	n.mu.Unlock()

	if closed {
		return
	}
	n.logger.Debug("directory changed", "listeners", len(listeners))
	for _, fn := range listeners {
		fn()
	}
}

// Close stops watching.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
	}
	if n.watcher == nil {
		return nil
	}
	close(n.done)
	return n.watcher.Close()
}
