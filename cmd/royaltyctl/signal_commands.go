package main

import (
	"fmt"

	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/internal/signals"
	"github.com/urfave/cli/v2"
)

func signalCommand() *cli.Command {
	return &cli.Command{
		Name:      "signal",
		Usage:     "Announce a mint or purchase so running nodes refresh the address",
		ArgsUsage: "<address|*>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "mint, purchase, listing or refresh",
				Value: string(signals.KindRefresh),
			},
			&cli.StringFlag{
				Name:  "tx",
				Usage: "Transaction hash that triggered the signal",
			},
			&cli.StringFlag{
				Name:  "nats-url",
				Usage: "NATS server, defaults to SIGNALS_NATS_URL",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address or *")
			}
			address := c.Args().First()
			if address != signals.Broadcast {
				if _, err := royalty.ParseAddress(address); err != nil {
					return err
				}
			}

			cfg := config.Get()
			url := cfg.SignalsNatsUrl
			if c.IsSet("nats-url") {
				url = c.String("nats-url")
			}
			if url == "" {
				return fmt.Errorf("no NATS server configured (set SIGNALS_NATS_URL or --nats-url)")
			}

			bridge, err := signals.ConnectNATS(url, cfg.NatsSubject(), nil)
			if err != nil {
				return err
			}
			defer bridge.Close()

			sig := signals.Signal{Address: address, Kind: signals.Kind(c.String("kind")), TxHash: c.String("tx")}
			if err := bridge.Announce(sig); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Announced %s for %s on %s\n", sig.Kind, address, cfg.NatsSubject())
			return nil
		},
	}
}
