package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/6529-Collections/royaltynode/internal/cache"
	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/urfave/cli/v2"
)

var cacheFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "backend",
		Usage: "Cache backend (badger, sqlite), defaults to CACHE_BACKEND",
	},
	&cli.StringFlag{
		Name:  "db-path",
		Usage: "Cache location, defaults to CACHE_DB_PATH",
	},
	&cli.StringFlag{
		Name:    "namespace",
		Aliases: []string{"n"},
		Usage:   "transactions, royalties or creator-royalties",
		Value:   cache.NamespaceTransactions,
	},
}

func getStore(c *cli.Context) (cache.BlobStore, func(), error) {
	cfg := config.Get()
	backend := cfg.Backend()
	if c.IsSet("backend") {
		backend = c.String("backend")
	}
	path := cfg.DbPath()
	if c.IsSet("db-path") {
		path = c.String("db-path")
	}
	store, closeFn, err := cache.OpenStore(backend, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return store, func() { _ = closeFn() }, nil
}

// cacheInfo is the namespace-agnostic part of an entry.
type cacheInfo struct {
	Address          string
	Records          int
	LastFetchedAt    int64
	LastScannedBlock uint64
}

func listEntries(store cache.BlobStore, namespace string) ([]cacheInfo, error) {
	switch namespace {
	case cache.NamespaceTransactions:
		return entriesOf(cache.New[royalty.TransactionRecord](store, namespace)), nil
	case cache.NamespaceRoyalties, cache.NamespaceCreatorRoyalties:
		return entriesOf(cache.New[royalty.RoyaltyDistributionRecord](store, namespace)), nil
	}
	return nil, fmt.Errorf("unknown namespace %q", namespace)
}

func entriesOf[R any](c *cache.Cache[R]) []cacheInfo {
	var out []cacheInfo
	for _, addr := range c.Addresses() {
		e, _ := c.Get(addr)
		out = append(out, cacheInfo{
			Address:          addr,
			Records:          len(e.Records),
			LastFetchedAt:    e.LastFetchedAt,
			LastScannedBlock: e.LastScannedBlock,
		})
	}
	return out
}

func cacheAddressesCommand() *cli.Command {
	return &cli.Command{
		Name:    "addresses",
		Usage:   "List cached addresses of a namespace",
		Aliases: []string{"ls"},
		Flags:   cacheFlags,
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := listEntries(store, c.String("namespace"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, entries)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tRECORDS\tFETCHED\tBLOCK")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n",
					e.Address,
					e.Records,
					time.UnixMilli(e.LastFetchedAt).UTC().Format(time.RFC3339),
					e.LastScannedBlock,
				)
			}
			w.Flush()
			fmt.Fprintf(c.App.Writer, "\nTotal: %d addresses\n", len(entries))
			return nil
		},
	}
}

func cacheShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print the cached entry of an address as JSON",
		ArgsUsage: "<address>",
		Flags:     cacheFlags,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			address := c.Args().First()
			namespace := c.String("namespace")
			var (
				entry any
				ok    bool
			)
			switch namespace {
			case cache.NamespaceTransactions:
				entry, ok = cache.New[royalty.TransactionRecord](store, namespace).Get(address)
			case cache.NamespaceRoyalties, cache.NamespaceCreatorRoyalties:
				entry, ok = cache.New[royalty.RoyaltyDistributionRecord](store, namespace).Get(address)
			default:
				return fmt.Errorf("unknown namespace %q", namespace)
			}
			if !ok {
				return fmt.Errorf("%s is not cached in %s", address, namespace)
			}
			return outputJSON(c.App.Writer, entry)
		},
	}
}

func cacheClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Drop every cached entry of a namespace",
		Flags: cacheFlags,
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			namespace := c.String("namespace")
			switch namespace {
			case cache.NamespaceTransactions:
				err = cache.New[royalty.TransactionRecord](store, namespace).Clear()
			case cache.NamespaceRoyalties, cache.NamespaceCreatorRoyalties:
				err = cache.New[royalty.RoyaltyDistributionRecord](store, namespace).Clear()
			default:
				return fmt.Errorf("unknown namespace %q", namespace)
			}
			if err != nil {
				return fmt.Errorf("failed to clear %s: %w", namespace, err)
			}
			fmt.Fprintf(c.App.Writer, "Cleared %s\n", namespace)
			return nil
		},
	}
}
