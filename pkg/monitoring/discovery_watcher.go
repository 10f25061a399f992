package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

const defaultDiscoveryDebounce = 100 * time.Millisecond

// DiscoveryWatcher turns file changes in PID file directories into discovery wakeups
type DiscoveryWatcher struct {
	watcher  *fsnotify.Watcher
	clock    clock.Clock
	debounce time.Duration
	logger   logging.Logger

	wake chan struct{}

	mutex     sync.Mutex
	debouncer clock.Timer
}

func NewDiscoveryWatcher(dirs []string, debounce time.Duration, clk clock.Clock, logger logging.Logger) (*DiscoveryWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDiscoveryDebounce
	}
	if clk == nil {
		clk = clock.WallClock
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create file watcher", err)
	}

	seen := make(map[string]bool)
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, errors.NewIOError("failed to watch directory", err).WithContext("directory", dir)
		}
	}

	return &DiscoveryWatcher{
		watcher:  watcher,
		clock:    clk,
		debounce: debounce,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Wake delivers at most one pending signal per burst of file changes
func (w *DiscoveryWatcher) Wake() <-chan struct{} {
	return w.wake
}

// Run consumes watcher events until ctx is done, then closes the watcher
func (w *DiscoveryWatcher) Run(ctx context.Context) {
	defer func() {
		w.mutex.Lock()
		if w.debouncer != nil {
			w.debouncer.Stop()
		}
		w.mutex.Unlock()
		w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debugf("Discovery watcher event, name: %s, op: %s", event.Name, event.Op)
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Discovery watcher error: %v", err)
		}
	}
}

func (w *DiscoveryWatcher) schedule() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = w.clock.AfterFunc(w.debounce, w.signal)
}

func (w *DiscoveryWatcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
