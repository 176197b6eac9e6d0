package localstore

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// debugWatcher logs block and sidecar file creation under the shuffle
// directory at debug level. It is pure observability: no shuffle logic
// reads its events, so its failure modes are limited to "debug logging
// stops."
type debugWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newDebugWatcher(shuffleDir string) (*debugWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := w.Add(shuffleDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", shuffleDir, err)
	}

	dw := &debugWatcher{watcher: w, done: make(chan struct{})}
	go dw.loop()
	return dw, nil
}

func (dw *debugWatcher) loop() {
	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				log.Debug(fmt.Sprintf("shuffle file event: %s %s", event.Op, event.Name))
			}
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			log.Debug(fmt.Sprintf("watcher error: %v", err))
		case <-dw.done:
			return
		}
	}
}

func (dw *debugWatcher) Close() {
	select {
	case <-dw.done:
	default:
		close(dw.done)
	}
	dw.watcher.Close()
}
