package gateway

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kronos/pkg/logger"
)

const debounceDelay = 100 * time.Millisecond

// Watcher calls onChange when a watched file is written or replaced.
// Bursts of events within debounceDelay produce one call.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	onChange func(path string)
	stopCh   chan struct{}
	stopOnce sync.Once
	debounce map[string]*time.Timer
	mu       sync.Mutex
}

// NewWatcher creates a watcher for files. The parent directories are
// watched so editors that replace files via rename are still seen.
func NewWatcher(onChange func(path string), files ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[filepath.Clean(f)] = true
	}

	return &Watcher{
		watcher:  w,
		files:    set,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch path")
		}
	}

	go w.run()
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.handleEvent(filepath.Clean(event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) handleEvent(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		logger.Debug().Str("path", path).Msg("Watched file changed")
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		for _, timer := range w.debounce {
			timer.Stop()
		}
		w.mu.Unlock()

		w.watcher.Close()
	})
}
