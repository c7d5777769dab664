package observer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopWatcher fires a callback once when a stop file appears. Creating
// the file (for example with touch) requests a graceful stop of the run.
type StopWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	callback func()
	debounce time.Duration

	once   sync.Once
	timer  *time.Timer
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewStopWatcher watches the directory containing path
func NewStopWatcher(path string, callback func()) (*StopWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &StopWatcher{
		watcher:  watcher,
		path:     abs,
		callback: callback,
		debounce: 50 * time.Millisecond,
	}, nil
}

// Path returns the watched stop file
func (sw *StopWatcher) Path() string { return sw.path }

// Start begins watching. A stop file that already exists fires the
// callback immediately.
func (sw *StopWatcher) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	if _, err := os.Stat(sw.path); err == nil {
		sw.fire()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sw.watcher.Events:
				if !ok {
					return
				}
				sw.handleEvent(event)
			case _, ok := <-sw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops watching
func (sw *StopWatcher) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.mu.Lock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.mu.Unlock()
	sw.watcher.Close()
}

// Clear removes the stop file so the next run is not stopped by it
func (sw *StopWatcher) Clear() error {
	err := os.Remove(sw.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (sw *StopWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != sw.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.fire)
}

func (sw *StopWatcher) fire() {
	sw.once.Do(func() {
		if sw.callback != nil {
			sw.callback()
		}
	})
}

// SetDebounce sets how long to wait after the last event before firing
func (sw *StopWatcher) SetDebounce(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.debounce = d
}
