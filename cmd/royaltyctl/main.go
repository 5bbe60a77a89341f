package main

import (
	"fmt"
	"io"
	"os"

	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
)

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "royaltyctl",
		Usage: "Derive and inspect royalty views from the command line",
		Description: `One-shot access to what royaltynode serves.

Derive commands read chain state directly using the node's configuration
(config.env and environment). Cache commands inspect the node's local store.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Writer:  out,
		Commands: []*cli.Command{
			{
				Name:  "derive",
				Usage: "Build a view for an address from chain state",
				Subcommands: []*cli.Command{
					historyCommand(),
					royaltiesCommand(),
					creatorRoyaltiesCommand(),
				},
			},
			{
				Name:  "cache",
				Usage: "Inspect or clear the persistent cache",
				Subcommands: []*cli.Command{
					cacheAddressesCommand(),
					cacheShowCommand(),
					cacheClearCommand(),
				},
			},
			signalCommand(),
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format",
			},
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
