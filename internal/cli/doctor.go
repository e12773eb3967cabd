package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/engine"
)

type check struct {
	name   string
	ok     bool
	detail string
}

// writableDir creates dir if needed and probes it with a temp file.
func writableDir(dir string) check {
	c := check{name: "Data path"}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		c.detail = fmt.Sprintf("%s (cannot create: %v)", dir, err)
		return c
	}
	probe, err := os.CreateTemp(dir, ".stmem-write-test-*")
	if err != nil {
		c.detail = fmt.Sprintf("%s (not writable)", dir)
		return c
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	c.ok, c.detail = true, abs+" (writable)"
	return c
}

func embeddingCheck(s config.EmbeddingSettings) check {
	c := check{name: "Embedding", detail: s.Provider + " " + s.Model}
	switch {
	case s.Provider == "voyage" && s.APIKey == "":
		c.detail += " (no API key)"
	default:
		c.ok = true
	}
	return c
}

func summarizerCheck(s config.SummarizerSettings) check {
	c := check{name: "Summarizer", detail: s.Provider + " " + s.Model}
	switch {
	case s.APIKey == "" && (s.Provider == "anthropic" || s.URL == ""):
		c.detail += " (no API key)"
	default:
		c.ok = true
	}
	return c
}

func printChecks(w io.Writer, checks []check) bool {
	ready := true
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark, ready = "✗", false
		}
		fmt.Fprintf(w, "%-12s %s %s\n", c.name+":", mark, c.detail)
	}
	fmt.Fprintln(w)
	if ready {
		fmt.Fprintln(w, "Status:      READY")
	} else {
		fmt.Fprintln(w, "Status:      NOT READY")
	}
	return ready
}

func (a *app) cmdDoctor() *cli.Command {
	var online bool

	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that storage and API settings are ready",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "online",
				Usage:       "also call the embedding service",
				Destination: &online,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := a.cfg
			checks := []check{writableDir(cfg.Storage.DataPath)}

			store := check{name: "Storage", detail: cfg.Storage.Engine}
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				store.detail += fmt.Sprintf(" (%v)", err)
				checks = append(checks, store)
			} else {
				defer rt.Close()
				store.ok = true
				checks = append(checks, store)
			}

			s := cfg.SettingsSource().Settings()
			checks = append(checks, embeddingCheck(s.Embedding), summarizerCheck(s.Summarizer))

			if online && rt != nil {
				n := rt.engine.TestConnection(ctx)
				checks = append(checks, check{name: "Connection", ok: n.Level != engine.LevelError, detail: n.Message})
			}

			if !printChecks(c.Root().Writer, checks) {
				return goerr.New("installation is not ready")
			}
			return nil
		},
	}
}
