package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

func entityFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "entity",
		Aliases:     []string{"e"},
		Usage:       "character or group id",
		Required:    true,
		Destination: dest,
	}
}

// textArg joins the positional arguments, or reads stdin when there are
// none or the only argument is "-".
func textArg(c *cli.Command, stdin io.Reader) (string, error) {
	args := c.Args().Slice()
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read stdin")
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}

func (a *app) cmdStore() *cli.Command {
	var entity, entityName, userName, role, chatID string

	return &cli.Command{
		Name:      "store",
		Usage:     "Summarize, embed and store one message",
		ArgsUsage: "[text | -]",
		Flags: []cli.Flag{
			entityFlag(&entity),
			&cli.StringFlag{Name: "name", Usage: "character display name", Destination: &entityName},
			&cli.StringFlag{Name: "user", Usage: "user display name", Destination: &userName},
			&cli.StringFlag{Name: "role", Usage: "user or assistant", Value: string(types.RoleUser), Destination: &role},
			&cli.StringFlag{Name: "chat-id", Usage: "chat the message belongs to", Destination: &chatID},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			text, err := textArg(c, os.Stdin)
			if err != nil {
				return err
			}
			return a.withRuntime(ctx, func(rt *runtime) error {
				ec := engine.EntityContext{EntityID: entity, EntityName: entityName, UserName: userName, ChatID: chatID}
				rec, err := rt.engine.ProcessAndStore(ctx, text, types.ParseRole(role), ec)
				if err != nil {
					return failed("Store", err)
				}
				return printJSON(c.Root().Writer, rec)
			})
		},
	}
}

func (a *app) cmdSearch() *cli.Command {
	var entity string
	var topK int
	var threshold float64
	var debug bool

	return &cli.Command{
		Name:      "search",
		Usage:     "Find the memories most similar to a query",
		ArgsUsage: "[query | -]",
		Flags: []cli.Flag{
			entityFlag(&entity),
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "maximum results (default: settings)", Destination: &topK},
			&cli.FloatFlag{Name: "threshold", Usage: "minimum cosine similarity (default: settings)", Destination: &threshold},
			&cli.BoolFlag{Name: "debug", Usage: "include the retrieval trace", Destination: &debug},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			query, err := textArg(c, os.Stdin)
			if err != nil {
				return err
			}
			var th *float64
			if c.IsSet("threshold") {
				th = &threshold
			}
			return a.withRuntime(ctx, func(rt *runtime) error {
				res, err := rt.engine.Search(ctx, entity, query, topK, th, debug)
				if err != nil {
					return failed("Search", err)
				}
				return printJSON(c.Root().Writer, res)
			})
		},
	}
}

func (a *app) cmdList() *cli.Command {
	var entity string

	return &cli.Command{
		Name:  "list",
		Usage: "Print an entity's memories in insertion order",
		Flags: []cli.Flag{entityFlag(&entity)},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.withRuntime(ctx, func(rt *runtime) error {
				memories := rt.engine.Memories(ctx, entity)
				if memories == nil {
					memories = []types.MemoryRecord{}
				}
				return printJSON(c.Root().Writer, memories)
			})
		},
	}
}

func (a *app) cmdStats() *cli.Command {
	var entity string

	return &cli.Command{
		Name:  "stats",
		Usage: "Print memory count and timestamps for an entity",
		Flags: []cli.Flag{entityFlag(&entity)},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.withRuntime(ctx, func(rt *runtime) error {
				return printJSON(c.Root().Writer, rt.engine.Stats(ctx, entity))
			})
		},
	}
}

func (a *app) cmdEntities() *cli.Command {
	return &cli.Command{
		Name:  "entities",
		Usage: "List entities with stored memories",
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.withRuntime(ctx, func(rt *runtime) error {
				ids, err := rt.engine.Entities(ctx)
				if err != nil {
					return failed("Listing characters", err)
				}
				for _, id := range ids {
					if _, err := io.WriteString(c.Root().Writer, id+"\n"); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *app) cmdDelete() *cli.Command {
	var entity string

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete one memory by id",
		ArgsUsage: "<memory-id>",
		Flags:     []cli.Flag{entityFlag(&entity)},
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("memory id is required")
			}
			return a.withRuntime(ctx, func(rt *runtime) error {
				ok, err := rt.engine.DeleteMemory(ctx, entity, id)
				if err != nil {
					return failed("Delete", err)
				}
				if !ok {
					return printNotice(c.Root().Writer, engine.Infof("Memory %s was already gone.", id))
				}
				return printNotice(c.Root().Writer, engine.Successf("Memory %s deleted.", id))
			})
		},
	}
}

func (a *app) cmdClear() *cli.Command {
	var entity string

	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every memory of an entity",
		Flags: []cli.Flag{entityFlag(&entity)},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.withRuntime(ctx, func(rt *runtime) error {
				n, err := rt.engine.ClearMemories(ctx, entity)
				if err != nil {
					return failed("Clear", err)
				}
				return printNotice(c.Root().Writer, engine.Successf("Cleared %d %s.", n, plural(n)))
			})
		},
	}
}

func (a *app) cmdExport() *cli.Command {
	var entity, output string

	return &cli.Command{
		Name:  "export",
		Usage: "Write an entity's memory file, embeddings included",
		Flags: []cli.Flag{
			entityFlag(&entity),
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "file to write (default: stdout)", Destination: &output},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.withRuntime(ctx, func(rt *runtime) error {
				data, err := rt.engine.ExportMemories(ctx, entity)
				if err != nil {
					return failed("Export", err)
				}
				if output == "" {
					_, err := c.Root().Writer.Write(append(data, '\n'))
					return err
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return goerr.Wrap(err, "failed to write export", goerr.V("path", output))
				}
				return nil
			})
		},
	}
}

func (a *app) cmdImport() *cli.Command {
	var entity string
	var replace bool

	return &cli.Command{
		Name:      "import",
		Usage:     "Load a memory file into an entity's store",
		ArgsUsage: "<file | ->",
		Flags: []cli.Flag{
			entityFlag(&entity),
			&cli.BoolFlag{Name: "replace", Usage: "replace existing memories instead of merging", Destination: &replace},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return goerr.New("import file is required")
			}
			var payload []byte
			var err error
			if path == "-" {
				payload, err = io.ReadAll(os.Stdin)
			} else {
				payload, err = os.ReadFile(path)
			}
			if err != nil {
				return goerr.Wrap(err, "failed to read import file", goerr.V("path", path))
			}

			return a.withRuntime(ctx, func(rt *runtime) error {
				n, err := rt.engine.ImportMemories(ctx, entity, payload, !replace)
				if err != nil {
					return failed("Import", err)
				}
				return printNotice(c.Root().Writer, engine.Successf("Imported %d %s.", n, plural(n)))
			})
		},
	}
}

func (a *app) cmdTestConnection() *cli.Command {
	return &cli.Command{
		Name:  "test-connection",
		Usage: "Check that the embedding service answers",
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.withRuntime(ctx, func(rt *runtime) error {
				return printNotice(c.Root().Writer, rt.engine.TestConnection(ctx))
			})
		},
	}
}

func plural(n int) string {
	if n == 1 {
		return "memory"
	}
	return "memories"
}
