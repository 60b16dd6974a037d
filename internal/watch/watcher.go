// Package watch observes the inbox directory where the host application
// drops its local collections, and feeds changes into the sync engine.
package watch

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/xtreamgames/xsync/internal/store"
)

// Inbox file names and the store slots they feed.
const (
	PrimaryFile   = "primary.json"
	SecondaryFile = "secondary.json"
)

// Op is the kind of inbox change.
type Op int

const (
	// OpCreate indicates a new inbox file.
	OpCreate Op = iota
	// OpModify indicates an existing inbox file was rewritten.
	OpModify
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	default:
		return "unknown"
	}
}

// Event is a change to one of the inbox files.
type Event struct {
	// Slot is the store slot the file maps to.
	Slot string
	// Path is the absolute path of the file.
	Path string
	Op   Op
}

// SlotForFile maps an inbox file name to its store slot.
func SlotForFile(name string) (string, bool) {
	switch filepath.Base(name) {
	case PrimaryFile:
		return store.SlotPrimary, true
	case SecondaryFile:
		return store.SlotSecondary, true
	default:
		return "", false
	}
}

// Watcher watches a single inbox directory. Removing or renaming an inbox
// file produces no event: local data is never deleted from the inbox side.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	dir     string
	logger  *log.Logger
}

// NewWatcher creates a watcher. It emits nothing until Start is called.
func NewWatcher(logger *log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Watcher{
		watcher: fw,
		events:  make(chan Event, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start creates dir if needed and begins watching it.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if w.stopped {
		return fmt.Errorf("watcher stopped")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve inbox %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", abs, err)
	}
	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", abs, err)
	}

	w.dir = abs
	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.logger.Printf("Watching %s", abs)
	return nil
}

// Stop stops watching and closes the Events and Errors channels. It is safe
// to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	wasRunning := w.running
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()

	if wasRunning {
		w.wg.Wait()
	}
	close(w.events)
	close(w.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel of inbox events. Closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors. Closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Dir returns the watched directory, or "" before Start.
func (w *Watcher) Dir() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dir
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			ev, ok := w.convert(event)
			if !ok {
				continue
			}
			select {
			case w.events <- ev:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) convert(event fsnotify.Event) (Event, bool) {
	if filepath.Dir(event.Name) != w.dir {
		return Event{}, false
	}
	slot, ok := SlotForFile(event.Name)
	if !ok {
		return Event{}, false
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	default:
		// Remove, Rename, Chmod.
		return Event{}, false
	}

	return Event{Slot: slot, Path: event.Name, Op: op}, true
}
