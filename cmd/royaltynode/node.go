package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/6529-Collections/royaltynode/internal/cache"
	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/6529-Collections/royaltynode/internal/db"
	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/6529-Collections/royaltynode/internal/metadata"
	"github.com/6529-Collections/royaltynode/internal/refresh"
	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/internal/rpc"
	"github.com/6529-Collections/royaltynode/internal/signals"
	"github.com/alitto/pond/v2"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// node owns every long-lived resource of the process.
type node struct {
	services rpc.Services
	closers  []func() error
}

func parseContracts(cfg config.Config) (royalty.Contracts, error) {
	nft, err := royalty.ParseAddress(cfg.NFTContractAddress)
	if err != nil {
		return royalty.Contracts{}, fmt.Errorf("NFT_CONTRACT_ADDRESS: %w", err)
	}
	router, err := royalty.ParseAddress(cfg.RouterContractAddress)
	if err != nil {
		return royalty.Contracts{}, fmt.Errorf("ROUTER_CONTRACT_ADDRESS: %w", err)
	}
	contracts := royalty.Contracts{NFT: nft, Router: router}
	if cfg.PaymentTokenAddress != "" {
		token, err := royalty.ParseAddress(cfg.PaymentTokenAddress)
		if err != nil {
			return royalty.Contracts{}, fmt.Errorf("PAYMENT_TOKEN_ADDRESS: %w", err)
		}
		contracts.PaymentToken = token
	}
	return contracts, nil
}

// openStorage returns the cache blob store and the badger DB that keeps block
// times. With the badger backend both share one database.
func (n *node) openStorage(cfg config.Config) (cache.BlobStore, *badger.DB, error) {
	switch cfg.Backend() {
	case cache.BackendBadger:
		bdb, err := db.OpenBadger(cfg.DbPath())
		if err != nil {
			return nil, nil, err
		}
		n.closers = append(n.closers, bdb.Close)
		return cache.NewBadgerStore(bdb), bdb, nil
	case cache.BackendSqlite:
		sdb, err := db.OpenSqlite(filepath.Join(cfg.DbPath(), "cache.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		n.closers = append(n.closers, sdb.Close)
		bdb, err := db.OpenBadgerInMemory()
		if err != nil {
			return nil, nil, err
		}
		n.closers = append(n.closers, bdb.Close)
		return cache.NewSqliteStore(sdb), bdb, nil
	case cache.BackendMemory:
		bdb, err := db.OpenBadgerInMemory()
		if err != nil {
			return nil, nil, err
		}
		n.closers = append(n.closers, bdb.Close)
		return cache.NewMemoryStore(), bdb, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend())
}

func startNode(ctx context.Context, cfg config.Config) (*node, error) {
	n := &node{}
	ok := false
	defer func() {
		if !ok {
			n.close()
		}
	}()

	contracts, err := parseContracts(cfg)
	if err != nil {
		return nil, err
	}

	client, err := eth.CreateEthClient()
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, func() error { client.Close(); return nil })

	store, bdb, err := n.openStorage(cfg)
	if err != nil {
		return nil, err
	}

	fetcher := eth.NewFetcher(client, cfg.LogWindow())
	joiner := eth.NewJoiner(fetcher, contracts.NFT, contracts.Router, eth.NewBlockTimeDb(bdb))
	names := metadata.NewResolver(joiner, metadata.NewHTTPClient(cfg.MetadataTimeout()), cfg.Gateway())

	pool := pond.NewPool(cfg.Concurrency())
	n.closers = append(n.closers, func() error { pool.StopAndWait(); return nil })

	builder := royalty.NewBuilder(fetcher, joiner, names, contracts, pool)
	opts := refresh.Options{StaleAfter: cfg.StaleAfter(), SignalDelay: cfg.SignalDelay()}

	transactions := refresh.New(cache.New[royalty.TransactionRecord](store, cache.NamespaceTransactions), builder.History, opts)
	recipients := refresh.New(cache.New[royalty.RoyaltyDistributionRecord](store, cache.NamespaceRoyalties), builder.RecipientRoyalties, opts)
	creators := refresh.New(cache.New[royalty.RoyaltyDistributionRecord](store, cache.NamespaceCreatorRoyalties), builder.CreatorRoyalties, opts)

	bus := signals.NewBus()
	for _, stop := range []func(){
		transactions.Watch(ctx, bus),
		recipients.Watch(ctx, bus),
		creators.Watch(ctx, bus),
	} {
		n.closers = append(n.closers, func() error { stop(); return nil })
	}

	if cfg.SignalsNatsUrl != "" {
		bridge, err := signals.ConnectNATS(cfg.SignalsNatsUrl, cfg.NatsSubject(), bus)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() error { bridge.Close(); return nil })
	}

	n.services = rpc.Services{
		Chain:            fetcher,
		Transactions:     transactions,
		Royalties:        recipients,
		CreatorRoyalties: creators,
		Signals:          bus,
	}

	zap.L().Info("Node wired",
		zap.String("nft", contracts.NFT.Hex()),
		zap.String("router", contracts.Router.Hex()),
		zap.String("cacheBackend", cfg.Backend()),
		zap.Uint64("logWindow", cfg.LogWindow()),
	)
	ok = true
	return n, nil
}

// close releases resources in reverse order of acquisition.
func (n *node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			zap.L().Warn("Error while closing", zap.Error(err))
		}
	}
	n.closers = nil
}
