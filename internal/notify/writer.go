// Package notify tells other processes sharing a data directory that an
// entity's memory store changed, so they can drop their cached copy. Events
// are small JSON files written to {dataPath}/events/ and picked up with
// fsnotify.
package notify

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Event types.
const (
	StoreChanged  = "store_changed"
	StoreCleared  = "store_cleared"
	StoreImported = "store_imported"
)

// Event is the payload written to an event file.
type Event struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	Time     int64  `json:"time"`
	Origin   int    `json:"origin"` // pid of the writing process
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir    string
	origin int
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events"), origin: os.Getpid()}
}

// Notify writes an event file. Safe to call concurrently.
func (w *EventWriter) Notify(eventType, entityID string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return goerr.Wrap(err, "notify: failed to create events dir", goerr.V("dir", w.dir))
	}
	evt := Event{
		Type:     eventType,
		EntityID: entityID,
		Time:     time.Now().UnixNano(),
		Origin:   w.origin,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return goerr.Wrap(err, "notify: failed to encode event")
	}

	// Written under a temp name and renamed so the watcher never sees a
	// partial file.
	name := fmt.Sprintf("%d-%d-%s", evt.Time, evt.Origin, sanitizeID(entityID))
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return goerr.Wrap(err, "notify: failed to write event", goerr.V("entity", entityID))
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+".event")); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "notify: failed to publish event", goerr.V("entity", entityID))
	}
	return nil
}

// sanitizeID makes an entity id safe to use in a file name.
func sanitizeID(id string) string {
	return url.PathEscape(id)
}
