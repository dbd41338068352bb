package watcher

import (
	"os"
	"time"

	"go.uber.org/zap"

	"splitbackup/pkg/models"
)

var lstat = os.Lstat

/*
Debouncer:
  - every event restarts the timer and replaces the pending event
  - the pending event is delivered once the timer fires
*/
func (w *Watcher) debouncedSend(event models.FileEvent) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	w.pending = event
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.debounceMu.Lock()
	event := w.pending
	w.timer = nil
	w.debounceMu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	select {
	case w.changeChan <- event:
		w.log.Debug("change detected", zap.String("path", event.Path), zap.String("op", event.Operation))
	default:
		// an unread event already stands for this burst
	}
}

func (w *Watcher) Changes() <-chan models.FileEvent {
	return w.changeChan
}

func (w *Watcher) Errors() <-chan error {
	return w.errorChan
}

func (w *Watcher) Close() error {
	w.cancel()
	w.debounceMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.debounceMu.Unlock()
	return w.fsNotifyWatcher.Close()
}
