package backup

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// Service takes and restores backups of a Store.
type Service struct {
	store     Store
	dir       string
	interval  time.Duration
	retention RetentionPolicy
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	lastBackup time.Time
	nextBackup time.Time
}

// Status reports the state of the backup directory and schedule.
type Status struct {
	Dir        string    `json:"dir"`
	Backups    []Info    `json:"backups"`
	DiskUsage  int64     `json:"disk_usage"`
	LastBackup time.Time `json:"last_backup,omitzero"`
	NextBackup time.Time `json:"next_backup,omitzero"`
}

// NewService creates the backup directory if needed.
func NewService(store Store, cfg Config) (*Service, error) {
	if cfg.Dir == "" {
		return nil, goerr.New("backup directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create backup directory", goerr.V("dir", cfg.Dir))
	}
	return &Service{
		store:     store,
		dir:       cfg.Dir,
		interval:  cfg.Interval,
		retention: cfg.Retention.withDefaults(),
		now:       time.Now,
		logger:    logging.With("backup"),
	}, nil
}

// Run takes a backup every interval until ctx is cancelled. It returns
// immediately when no interval is configured.
func (s *Service) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNext()
	s.logger.Info("scheduled backups enabled", "interval", s.interval, "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.BackupNow(ctx)
			if err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
			} else {
				s.logger.Info("scheduled backup completed",
					"path", res.Path,
					"entities", res.Entities,
					"memories", res.Memories,
					"size", res.Size,
					"duration", res.Duration,
				)
			}
			s.setNext()
		}
	}
}

func (s *Service) setNext() {
	s.mu.Lock()
	s.nextBackup = s.now().Add(s.interval)
	s.mu.Unlock()
}

// BackupNow archives every entity's memories and applies the retention
// policy. Retention failures are logged, not returned.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.now()

	ids, err := s.store.Entities(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list entities")
	}

	a := &archive{Version: archiveVersion, CreatedAt: start.UTC(), Stores: make(map[string]json.RawMessage, len(ids))}
	memories := 0
	for _, id := range ids {
		data, err := s.store.ExportMemories(ctx, id)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to export entity", goerr.V("entity", id))
		}
		n, err := countMemories(data)
		if err != nil {
			return nil, goerr.Wrap(err, "export is not a memory file", goerr.V("entity", id))
		}
		memories += n
		a.Stores[id] = data
	}

	path := filepath.Join(s.dir, archiveName(start))
	size, err := writeArchive(path, a)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastBackup = s.now()
	s.mu.Unlock()

	if deleted, err := applyRetention(s.dir, s.retention, s.now()); err != nil {
		s.logger.Warn("failed to apply retention policy", "error", err)
	} else if len(deleted) > 0 {
		s.logger.Debug("pruned old backups", "count", len(deleted))
	}

	return &Result{
		Path:     path,
		Entities: len(ids),
		Memories: memories,
		Size:     size,
		Duration: s.now().Sub(start),
	}, nil
}

// Restore replaces each archived entity's memories with the archived ones.
// The archive is verified before anything is written; entities absent from
// the archive are left alone.
func (s *Service) Restore(ctx context.Context, path string) (*Result, error) {
	start := s.now()
	a, err := readArchive(path)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: path}
	for _, id := range a.entities() {
		n, err := s.store.ImportMemories(ctx, id, a.Stores[id], false)
		if err != nil {
			return res, goerr.Wrap(err, "failed to restore entity", goerr.V("entity", id), goerr.V("restored", res.Entities))
		}
		res.Entities++
		res.Memories += n
	}
	res.Duration = s.now().Sub(start)
	s.logger.Info("restored backup", "path", path, "entities", res.Entities, "memories", res.Memories)
	return res, nil
}

// Status lists the archives and the schedule.
func (s *Service) Status() (*Status, error) {
	backups, err := listBackups(s.dir)
	if err != nil {
		return nil, err
	}
	usage, err := diskUsage(s.dir)
	if err != nil {
		return nil, err
	}
	if backups == nil {
		backups = []Info{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &Status{
		Dir:        s.dir,
		Backups:    backups,
		DiskUsage:  usage,
		LastBackup: s.lastBackup,
		NextBackup: s.nextBackup,
	}, nil
}
