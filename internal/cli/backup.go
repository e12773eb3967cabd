package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/solo125812/st-voyageai-memory/internal/backup"
	"github.com/solo125812/st-voyageai-memory/internal/config"
)

func backupConfig(cfg config.BackupConfig) backup.Config {
	return backup.Config{
		Dir:      cfg.Dir,
		Interval: cfg.Interval,
		Retention: backup.RetentionPolicy{
			Hourly:  cfg.Retention.Hourly,
			Daily:   cfg.Retention.Daily,
			Weekly:  cfg.Retention.Weekly,
			Monthly: cfg.Retention.Monthly,
		},
	}
}

// withBackup opens the engine and a backup service over it.
func (a *app) withBackup(ctx context.Context, fn func(svc *backup.Service) error) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		svc, err := backup.NewService(rt.engine, backupConfig(a.cfg.Backup))
		if err != nil {
			return err
		}
		return fn(svc)
	})
}

func (a *app) cmdBackup() *cli.Command {
	var dir string

	return &cli.Command{
		Name:  "backup",
		Usage: "Archive, list and restore every entity's memories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "backup directory (overrides config)",
				Destination: &dir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if dir != "" {
				a.cfg.Backup.Dir = dir
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Write a backup now",
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.withBackup(ctx, func(svc *backup.Service) error {
						res, err := svc.BackupNow(ctx)
						if err != nil {
							return goerr.Wrap(err, "backup failed")
						}
						_, err = fmt.Fprintf(c.Root().Writer, "Backed up %d %s (%d %s) to %s\n",
							res.Memories, plural(res.Memories),
							res.Entities, noun(res.Entities, "entity", "entities"),
							res.Path)
						return err
					})
				},
			},
			{
				Name:  "list",
				Usage: "List backups, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the status as JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.withBackup(ctx, func(svc *backup.Service) error {
						status, err := svc.Status()
						if err != nil {
							return err
						}
						if c.Bool("json") {
							return printJSON(c.Root().Writer, status)
						}
						return printStatus(c.Root().Writer, status)
					})
				},
			},
			{
				Name:      "restore",
				Usage:     "Replace archived entities' memories with the backup's",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, c *cli.Command) error {
					path := c.Args().First()
					if path == "" {
						return goerr.New("backup file is required")
					}
					return a.withBackup(ctx, func(svc *backup.Service) error {
						res, err := svc.Restore(ctx, path)
						if err != nil {
							return goerr.Wrap(err, "restore failed")
						}
						_, err = fmt.Fprintf(c.Root().Writer, "Restored %d %s across %d %s.\n",
							res.Memories, plural(res.Memories),
							res.Entities, noun(res.Entities, "entity", "entities"))
						return err
					})
				},
			},
		},
	}
}

func printStatus(w io.Writer, status *backup.Status) error {
	if len(status.Backups) == 0 {
		_, err := fmt.Fprintf(w, "No backups in %s\n", status.Dir)
		return err
	}
	fmt.Fprintf(w, "%d %s in %s (%.2f MB)\n",
		len(status.Backups), noun(len(status.Backups), "backup", "backups"),
		status.Dir, float64(status.DiskUsage)/(1024*1024))
	for _, b := range status.Backups {
		fmt.Fprintf(w, "  %s  %s  %8.2f KB\n", b.Timestamp.Format(time.RFC3339), b.Path, float64(b.Size)/1024)
	}
	return nil
}

func noun(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
