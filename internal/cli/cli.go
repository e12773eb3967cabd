// Package cli implements the stmem command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// app holds state shared by all commands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
}

// Run executes the stmem command line.
func Run(ctx context.Context, args []string, version string) error {
	if err := newCommand(version, os.Stdout).Run(ctx, args); err != nil {
		logging.Default().Error("failed to run command", "error", err)
		return err
	}
	return nil
}

func newCommand(version string, out io.Writer) *cli.Command {
	a := &app{}

	return &cli.Command{
		Name:    "stmem",
		Usage:   "Long-term semantic memory for chat characters",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "YAML config file",
				Sources:     cli.EnvVars("STMEM_CONFIG"),
				Destination: &a.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error (overrides config)",
				Destination: &a.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text or json (overrides config)",
				Destination: &a.logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.LoadConfigFile(a.configPath)
			if err != nil {
				return ctx, goerr.Wrap(err, "failed to load config")
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			if a.logFormat != "" {
				cfg.Log.Format = a.logFormat
			}
			logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			a.cfg = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			a.cmdServe(),
			a.cmdStore(),
			a.cmdSearch(),
			a.cmdList(),
			a.cmdStats(),
			a.cmdEntities(),
			a.cmdDelete(),
			a.cmdClear(),
			a.cmdExport(),
			a.cmdImport(),
			a.cmdTestConnection(),
			a.cmdBackup(),
			a.cmdMCP(version),
			a.cmdDoctor(),
		},
	}
}

// withRuntime opens the engine for the duration of fn.
func (a *app) withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := openRuntime(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}

// printNotice writes the one-line outcome of a command. Error notices are
// returned as errors so the exit status reflects them.
func printNotice(w io.Writer, n engine.Notice) error {
	if n.Level == engine.LevelError {
		return goerr.New(n.Message)
	}
	_, err := io.WriteString(w, n.Message+"\n")
	return err
}

// failed turns an engine error into its notice-formatted error.
func failed(action string, err error) error {
	return goerr.Wrap(err, engine.Failure(action, err).Message)
}
