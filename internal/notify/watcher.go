package notify

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// EventWatcher watches the events directory and dispatches callbacks.
// Events written by the watching process itself are consumed silently.
type EventWatcher struct {
	dir      string
	origin   int
	callback func(eventType, entityID string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	logger   *slog.Logger
}

// NewEventWatcher creates a watcher for {dataPath}/events/.
func NewEventWatcher(dataPath string, callback func(eventType, entityID string)) *EventWatcher {
	return &EventWatcher{
		dir:      filepath.Join(dataPath, "events"),
		origin:   os.Getpid(),
		callback: callback,
		done:     make(chan struct{}),
		logger:   logging.With("notify"),
	}
}

// Start begins watching. Event files left from before start are drained
// first. Call Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return goerr.Wrap(err, "notify: failed to create events dir", goerr.V("dir", ew.dir))
	}

	ew.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "notify: failed to create watcher")
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "notify: failed to watch events dir", goerr.V("dir", ew.dir))
	}
	ew.watcher = w

	go ew.loop()
	ew.logger.Info("watching for store change events", "dir", ew.dir)
	return nil
}

// Stop shuts down the watcher.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			// Rename delivers Create for the new name on Linux and macOS.
			if evt.Op&fsnotify.Create != 0 && isEventFile(evt.Name) {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.logger.Warn("watcher error", "error", err)
		}
	}
}

func isEventFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".event") && !strings.HasPrefix(base, ".")
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isEventFile(entry.Name()) {
			ew.processFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func (ew *EventWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // consumed by another watcher
	}
	_ = os.Remove(path)

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		ew.logger.Warn("invalid event file", "file", filepath.Base(path), "error", err)
		return
	}

	if event.Origin == ew.origin || event.EntityID == "" || ew.callback == nil {
		return
	}
	ew.logger.Debug("store changed elsewhere", "type", event.Type, "entity", event.EntityID, "origin", event.Origin)
	ew.callback(event.Type, event.EntityID)
}
