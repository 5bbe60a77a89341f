package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/6529-Collections/royaltynode/internal/metadata"
	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/alitto/pond/v2"
	"github.com/urfave/cli/v2"
)

func newBuilder(c *cli.Context) (*royalty.Builder, func(), error) {
	cfg := config.Get()
	contracts := royalty.Contracts{}
	var err error
	if contracts.NFT, err = royalty.ParseAddress(cfg.NFTContractAddress); err != nil {
		return nil, nil, fmt.Errorf("NFT_CONTRACT_ADDRESS: %w", err)
	}
	if contracts.Router, err = royalty.ParseAddress(cfg.RouterContractAddress); err != nil {
		return nil, nil, fmt.Errorf("ROUTER_CONTRACT_ADDRESS: %w", err)
	}
	if cfg.PaymentTokenAddress != "" {
		if contracts.PaymentToken, err = royalty.ParseAddress(cfg.PaymentTokenAddress); err != nil {
			return nil, nil, fmt.Errorf("PAYMENT_TOKEN_ADDRESS: %w", err)
		}
	}

	client, err := eth.CreateEthClient()
	if err != nil {
		return nil, nil, err
	}
	window := cfg.LogWindow()
	if c.IsSet("window") {
		window = c.Uint64("window")
	}
	fetcher := eth.NewFetcher(client, window)
	joiner := eth.NewJoiner(fetcher, contracts.NFT, contracts.Router, nil)

	var names royalty.NameResolver
	if !c.Bool("no-metadata") {
		names = metadata.NewResolver(joiner, metadata.NewHTTPClient(cfg.MetadataTimeout()), cfg.Gateway())
	}
	pool := pond.NewPool(cfg.Concurrency())

	closer := func() {
		pool.StopAndWait()
		client.Close()
	}
	return royalty.NewBuilder(fetcher, joiner, names, contracts, pool), closer, nil
}

var deriveFlags = []cli.Flag{
	&cli.Uint64Flag{
		Name:  "window",
		Usage: "Override LOG_WINDOW_BLOCKS",
	},
	&cli.BoolFlag{
		Name:  "no-metadata",
		Usage: "Skip token metadata lookups, use placeholder names",
	},
}

func deriveAction[R any](build func(b *royalty.Builder) func(ctx context.Context, address string) (royalty.Result[R], error), print func(w io.Writer, records []R)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("requires exactly one argument: address")
		}
		b, closer, err := newBuilder(c)
		if err != nil {
			return err
		}
		defer closer()

		res, err := build(b)(c.Context, c.Args().First())
		if err != nil {
			return fmt.Errorf("failed to derive view: %w", err)
		}

		if c.Bool("json") {
			return outputJSON(c.App.Writer, res)
		}
		print(c.App.Writer, res.Records)
		printSummary(c.App.Writer, res.Summary.TotalEarnings, res.Summary.TotalDistributions, res.Summary.AverageRoyalty, res.Summary.TopEntity, res.ScannedBlock)
		for name, msg := range res.SourceErrors {
			fmt.Fprintf(c.App.Writer, "Source %s failed: %s\n", name, msg)
		}
		return nil
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Transaction history of an address",
		ArgsUsage: "<address>",
		Flags:     deriveFlags,
		Action: deriveAction(func(b *royalty.Builder) func(context.Context, string) (royalty.Result[royalty.TransactionRecord], error) {
			return b.History
		}, printTransactions),
	}
}

func royaltiesCommand() *cli.Command {
	return &cli.Command{
		Name:      "royalties",
		Usage:     "Royalty payouts received by an address, grouped by token",
		ArgsUsage: "<address>",
		Flags:     deriveFlags,
		Action: deriveAction(func(b *royalty.Builder) func(context.Context, string) (royalty.Result[royalty.RoyaltyDistributionRecord], error) {
			return b.RecipientRoyalties
		}, printDistributions),
	}
}

func creatorRoyaltiesCommand() *cli.Command {
	return &cli.Command{
		Name:      "creator-royalties",
		Usage:     "Royalty payouts from the splitters of tokens an address minted, grouped by recipient",
		ArgsUsage: "<address>",
		Flags:     deriveFlags,
		Action: deriveAction(func(b *royalty.Builder) func(context.Context, string) (royalty.Result[royalty.RoyaltyDistributionRecord], error) {
			return b.CreatorRoyalties
		}, printDistributions),
	}
}

func printTransactions(out io.Writer, records []royalty.TransactionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tTOKEN\tAMOUNT\tSTATUS\tTX")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTime(r.Timestamp),
			r.Kind,
			r.TokenID,
			royalty.FormatMinor(r.Amount),
			r.Status,
			r.TransactionHash,
		)
	}
	w.Flush()
}

func printDistributions(out io.Writer, records []royalty.RoyaltyDistributionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOKEN\tRECIPIENT\tAMOUNT\tSHARE\tSALE PRICE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f%%\t%s\n",
			formatTime(r.Timestamp),
			r.NFTDisplayName,
			r.RecipientName,
			r.AmountFormatted,
			r.Percentage,
			royalty.FormatMinor(r.SalePrice),
		)
	}
	w.Flush()
}

func printSummary(out io.Writer, total string, count int, average string, top royalty.TopEntity, block uint64) {
	fmt.Fprintf(out, "\nTotal:   %s over %d records (average %s)\n", total, count, average)
	fmt.Fprintf(out, "Top:     %s (%s) %s\n", top.Name, top.ID, top.Earnings)
	fmt.Fprintf(out, "Scanned: up to block %d\n", block)
}

func formatTime(ts uint64) string {
	if ts == 0 {
		return "unknown"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func outputJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
