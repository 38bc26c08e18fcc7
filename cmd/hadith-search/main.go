package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dshills/hadith-search/internal/searcher"
	"github.com/dshills/hadith-search/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "hadith-search %s\n", version)
		fmt.Fprintf(c.App.Writer, "Build Time: %s\n", buildTime)
		fmt.Fprintf(c.App.Writer, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(c.App.Writer, "SQLite Driver: %s\n", storage.DriverName)
		fmt.Fprintf(c.App.Writer, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	}

	return &cli.App{
		Name:    "hadith-search",
		Usage:   "Hybrid lexical and semantic search over hadith and tafsir",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a .toml or .yaml config file",
				EnvVars: []string{"HADITH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the indexes (overrides config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
		},
		Before: loadConfig,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP server on stdio",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Expose Prometheus metrics on this address, e.g. :9090",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest JSON Lines corpus files",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Rewrite every record ignoring stored checksums",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the indexes",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
						Value:   searcher.DefaultLimit,
					},
					&cli.StringSliceFlag{
						Name:  "collection",
						Usage: "Only return results from this collection slug (repeatable)",
					},
					&cli.StringFlag{
						Name:  "preset",
						Usage: "Weight preset (balanced, term-priority or a configured name)",
					},
					&cli.StringFlag{
						Name:  "min-grade",
						Usage: "Drop results graded below this tier (sahih, hasan)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full response as JSON",
					},
				},
			},
			{
				Name:      "lookup",
				Usage:     "Fetch one entry by its reference",
				ArgsUsage: "REF",
				Action:    lookupCommand,
			},
			{
				Name:      "embed",
				Usage:     "Embed TEXT with the configured provider and check its dimension",
				ArgsUsage: "TEXT",
				Action:    embedCommand,
			},
			{
				Name:   "status",
				Usage:  "Show index statistics",
				Action: statusCommand,
			},
		},
	}
}
