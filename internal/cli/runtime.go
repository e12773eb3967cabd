package cli

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/internal/llm"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/internal/notify"
	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/internal/storage/file"
	"github.com/solo125812/st-voyageai-memory/internal/storage/mongodb"
	"github.com/solo125812/st-voyageai-memory/internal/storage/postgres"
	"github.com/solo125812/st-voyageai-memory/internal/storage/sqlite"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// runtime is everything a command needs to talk to the memory engine.
type runtime struct {
	store  *storage.MemoryStore
	engine *engine.Engine
	closer func()
}

func (rt *runtime) Close() {
	if rt.closer != nil {
		rt.closer()
	}
}

// openRuntime connects the configured persistence and builds the engine.
// Change events go to the given sinks and, when watching is enabled, to the
// cross-process event directory.
func openRuntime(ctx context.Context, cfg *config.Config, sinks ...engine.EventSink) (*runtime, error) {
	persist, closer, err := openPersistence(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewMemoryStore(persist, cfg.Storage.CacheSize)
	if err != nil {
		closer()
		return nil, err
	}

	if cfg.Storage.Watch {
		sinks = append(sinks, notifySink(notify.NewEventWriter(cfg.Storage.DataPath)))
	}
	eng, err := engine.New(cfg.SettingsSource(), llm.NewFactory(nil), store, engine.WithEventSink(engine.MultiSink(sinks)))
	if err != nil {
		closer()
		return nil, err
	}

	return &runtime{store: store, engine: eng, closer: closer}, nil
}

// openPersistence opens the backend named by cfg.Engine. Database backends
// are paired with an in-memory secondary so a failing database does not lose
// writes for the life of the process.
func openPersistence(ctx context.Context, cfg config.StorageConfig) (storage.Persistence, func(), error) {
	logger := logging.With("storage")
	noop := func() {}

	switch strings.ToLower(cfg.Engine) {
	case "file", "":
		store, err := file.New(cfg.DataPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("using file storage", "dir", store.Dir())
		return store, noop, nil

	case "sqlite":
		store, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("using sqlite storage", "path", cfg.SQLitePath)
		return storage.NewFallback(store, storage.NewMemory()), closeLogged(store.Close), nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, goerr.Wrap(types.ErrConfig, "postgres_dsn is required for the postgres engine")
		}
		store, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewFallback(store, storage.NewMemory()), closeLogged(store.Close), nil

	case "mongodb":
		if cfg.MongoURI == "" {
			return nil, nil, goerr.Wrap(types.ErrConfig, "mongodb_uri is required for the mongodb engine")
		}
		store, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		closer := closeLogged(func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(closeCtx)
		})
		return storage.NewFallback(store, storage.NewMemory()), closer, nil

	default:
		return nil, nil, goerr.Wrap(types.ErrConfig, "unknown storage engine", goerr.V("engine", cfg.Engine))
	}
}

func closeLogged(closeFn func() error) func() {
	return func() {
		if err := closeFn(); err != nil {
			logging.With("storage").Warn("failed to close storage", "error", err)
		}
	}
}

// notifySink forwards engine events to other processes sharing the data
// directory.
func notifySink(w *notify.EventWriter) engine.EventSink {
	logger := logging.With("notify")
	return engine.EventSinkFunc(func(e engine.Event) {
		eventType := notify.StoreChanged
		switch e.Type {
		case engine.EventMemoriesCleared:
			eventType = notify.StoreCleared
		case engine.EventMemoriesImported:
			eventType = notify.StoreImported
		}
		if err := w.Notify(eventType, e.EntityID); err != nil {
			logger.Warn("failed to write change event", "entity", e.EntityID, "error", err)
		}
	})
}
