package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/solo125812/st-voyageai-memory/internal/backup"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/internal/notify"
	"github.com/solo125812/st-voyageai-memory/internal/server"
)

func (a *app) cmdServe() *cli.Command {
	var host string
	var port int

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API for the chat host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Usage:       "listen host (overrides config)",
				Destination: &host,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "listen port (overrides config)",
				Destination: &port,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := a.cfg
			if host != "" {
				cfg.Server.Host = host
			}
			if c.IsSet("port") {
				cfg.Server.Port = port
			}
			logger := logging.With("serve")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := server.NewHub(cfg.Server.AllowedOrigins)
			go hub.Run()
			defer hub.Stop()

			rt, err := openRuntime(ctx, cfg, hub)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cfg.Storage.Watch {
				watcher := notify.NewEventWatcher(cfg.Storage.DataPath, func(eventType, entityID string) {
					logger.Debug("store changed by another process", "type", eventType, "entity", entityID)
					rt.store.Invalidate(entityID)
				})
				if err := watcher.Start(); err != nil {
					logger.Warn("change watcher unavailable; cached stores will not see other processes' writes", "error", err)
				} else {
					defer watcher.Stop()
				}
			}

			if cfg.Backup.Interval > 0 {
				svc, err := backup.NewService(rt.engine, backupConfig(cfg.Backup))
				if err != nil {
					return err
				}
				stopped := make(chan struct{})
				go func() {
					defer close(stopped)
					svc.Run(ctx)
				}()
				defer func() { <-stopped }()
			}

			addr, done, err := server.Start(ctx, cfg.Server, server.New(cfg.Server, rt.engine, hub))
			if err != nil {
				return err
			}
			logger.Info("memory service running",
				"url", "http://"+addr,
				"storage", cfg.Storage.Engine,
				"embedding", rt.engine.Settings().Embedding,
				"summarizer", rt.engine.Settings().Summarizer,
			)

			<-ctx.Done()
			logger.Info("shutting down")
			<-done
			return nil
		},
	}
}
