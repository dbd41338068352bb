package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"splitbackup/internal/utils"
	"splitbackup/pkg/models"
)

type Watcher struct {
	fsNotifyWatcher *fsnotify.Watcher
	watchedDirs     map[string]bool
	changeChan      chan models.FileEvent
	errorChan       chan error
	ctx             context.Context
	cancel          context.CancelFunc
	mu              sync.RWMutex

	debounce   time.Duration
	timer      *time.Timer
	pending    models.FileEvent
	debounceMu sync.Mutex

	exclude []string
	log     *zap.Logger
}

/*
Watcher:
 1. Recursive directory watching. Directories created after AddWatch are
    picked up as their CREATE event arrives.
 2. Debouncing. A burst of events collapses into the last one of the burst,
    delivered once nothing happened for the debounce period. A backup run
    covers the whole tree, so which file changed matters only for logging.

Changes has a buffer of one. While an event waits to be read, later bursts
are folded into it.

Paths below an excluded directory (usually the backup destination) never
produce events.
*/

type Option func(*Watcher)

func WithLogger(log *zap.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExclude ignores everything at or below the given paths.
func WithExclude(paths ...string) Option {
	return func(w *Watcher) {
		w.exclude = append(w.exclude, paths...)
	}
}

func NewWatcher(opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsNotifyWatcher: fsWatcher,
		watchedDirs:     make(map[string]bool),
		changeChan:      make(chan models.FileEvent, 1),
		errorChan:       make(chan error, 10),
		ctx:             ctx,
		cancel:          cancel,
		debounce:        500 * time.Millisecond,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// AddWatch watches path and every directory below it.
func (w *Watcher) AddWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(walkPath) {
			return filepath.SkipDir
		}
		if w.watchedDirs[walkPath] {
			return nil
		}
		if err := w.fsNotifyWatcher.Add(walkPath); err != nil {
			return err
		}
		w.watchedDirs[walkPath] = true
		w.log.Debug("watching directory", zap.String("path", walkPath))
		return nil
	})
}

// WatchedDirs returns the number of directories currently watched.
func (w *Watcher) WatchedDirs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.watchedDirs)
}

func (w *Watcher) Start() {
	go w.handleEvents()
}

func (w *Watcher) handleEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsNotifyWatcher.Events:
			if !ok {
				return
			}
			w.processEvent(event)
		case err, ok := <-w.fsNotifyWatcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) processEvent(event fsnotify.Event) {
	if w.excluded(event.Name) {
		return
	}

	var operation string
	switch {
	case event.Has(fsnotify.Create):
		operation = "CREATE"
		w.watchNewDirectory(event.Name)
	case event.Has(fsnotify.Write):
		operation = "MODIFY"
	case event.Has(fsnotify.Remove):
		operation = "DELETE"
		w.forget(event.Name)
	case event.Has(fsnotify.Rename):
		operation = "RENAME"
		w.forget(event.Name)
	default:
		return
	}

	w.debouncedSend(models.FileEvent{
		Path:      event.Name,
		Operation: operation,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) watchNewDirectory(path string) {
	if fi, err := lstat(path); err != nil || !fi.IsDir() {
		return
	}
	if err := w.AddWatch(path); err != nil {
		w.sendError(err)
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.watchedDirs {
		if utils.IsWithin(path, dir) {
			delete(w.watchedDirs, dir)
		}
	}
}

func (w *Watcher) excluded(path string) bool {
	for _, ex := range w.exclude {
		if utils.IsWithin(ex, path) {
			return true
		}
	}
	return false
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errorChan <- err:
	default:
		w.log.Warn("dropping watcher error", zap.Error(err))
	}
}
