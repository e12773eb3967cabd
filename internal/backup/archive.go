package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

const (
	archivePrefix  = "stmem-backup-"
	archiveExt     = ".json"
	archiveVersion = 1
)

// archive is the on-disk backup format: every entity's exported store keyed
// by entity id.
type archive struct {
	Version   int                        `json:"version"`
	CreatedAt time.Time                  `json:"created_at"`
	Stores    map[string]json.RawMessage `json:"stores"`
}

func archiveName(t time.Time) string {
	return archivePrefix + t.UTC().Format("20060102-150405.000000") + archiveExt
}

// writeArchive writes a under a temp name and renames it into place.
func writeArchive(path string, a *archive) (int64, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to encode backup")
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, goerr.Wrap(err, "failed to write backup", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, goerr.Wrap(err, "failed to finalize backup", goerr.V("path", path))
	}
	return int64(len(data)), nil
}

// readArchive loads and verifies an archive. Every store must carry a
// memories array.
func readArchive(path string) (*archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read backup", goerr.V("path", path))
	}
	var a archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, goerr.Wrap(types.ErrFormat, "backup is not valid JSON", goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	if a.Version != archiveVersion || a.Stores == nil {
		return nil, goerr.Wrap(types.ErrFormat, "unsupported backup", goerr.V("path", path), goerr.V("version", a.Version))
	}
	for _, id := range a.entities() {
		if _, err := countMemories(a.Stores[id]); err != nil {
			return nil, goerr.Wrap(err, "backup store is damaged", goerr.V("entity", id))
		}
	}
	return &a, nil
}

func (a *archive) entities() []string {
	ids := make([]string, 0, len(a.Stores))
	for id := range a.Stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func countMemories(store json.RawMessage) (int, error) {
	var doc struct {
		Memories *[]json.RawMessage `json:"memories"`
	}
	if err := json.Unmarshal(store, &doc); err != nil || doc.Memories == nil {
		return 0, goerr.Wrap(types.ErrFormat, "store has no memories array")
	}
	return len(*doc.Memories), nil
}
