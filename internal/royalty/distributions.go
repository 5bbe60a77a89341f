package royalty

import (
	"context"
	"sort"

	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/6529-Collections/royaltynode/pkg/stringtools"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// RecipientRoyalties derives every splitter payout received by address,
// grouped per token.
func (b *Builder) RecipientRoyalties(ctx context.Context, address string) (Result[RoyaltyDistributionRecord], error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}
	head, err := b.head(ctx)
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}

	logs, failed, err := b.fetch(ctx, []eth.Source{
		b.source(sourceDistributed, head, eth.LogQuery{Event: eth.RoyaltyDistributed, Topics: addressTopics(nil, &addr)}),
	})
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}

	records := b.distributionRecords(ctx, head, b.fromKnownSplitters(ctx, logs[sourceDistributed]))
	sorted, summary := AggregateByToken(records)
	return Result[RoyaltyDistributionRecord]{Records: sorted, Summary: summary, ScannedBlock: head, SourceErrors: failed}, nil
}

// CreatorRoyalties derives the payouts of every splitter attached to a token
// minted by address, grouped per recipient.
func (b *Builder) CreatorRoyalties(ctx context.Context, address string) (Result[RoyaltyDistributionRecord], error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}
	head, err := b.head(ctx)
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}

	logs, failed, err := b.fetch(ctx, []eth.Source{
		b.source(sourceCreations, head, eth.LogQuery{
			Contracts: []common.Address{b.contracts.NFT},
			Event:     eth.TokenMinted,
			Topics:    addressTopics(nil, &addr),
		}),
	})
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}

	splitters := b.creatorSplitters(ctx, logs[sourceCreations])
	if len(splitters) == 0 {
		sorted, summary := AggregateByRecipient(nil)
		return Result[RoyaltyDistributionRecord]{Records: sorted, Summary: summary, ScannedBlock: head, SourceErrors: failed}, nil
	}

	logs, failed, err = b.fetch(ctx, []eth.Source{
		b.source(sourceDistributed, head, eth.LogQuery{Contracts: splitters, Event: eth.RoyaltyDistributed}),
	})
	if err != nil {
		return Result[RoyaltyDistributionRecord]{}, err
	}

	records := b.distributionRecords(ctx, head, logs[sourceDistributed])
	sorted, summary := AggregateByRecipient(records)
	return Result[RoyaltyDistributionRecord]{Records: sorted, Summary: summary, ScannedBlock: head, SourceErrors: failed}, nil
}

func (b *Builder) creatorSplitters(ctx context.Context, logs []types.Log) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, ev := range b.decoder.DecodeAll(logs) {
		if ev.Schema.Name != eth.TokenMinted.Name {
			continue
		}
		splitter, err := ev.Address("splitter")
		if err != nil || splitter == eth.ZeroAddress {
			id, ierr := ev.BigInt("tokenId")
			if ierr != nil {
				continue
			}
			if splitter, err = b.joiner.SplitterOf(ctx, id); err != nil || splitter == eth.ZeroAddress {
				zap.L().Debug("No splitter for minted token", zap.String("tokenId", id.String()))
				continue
			}
		}
		if _, ok := seen[splitter]; ok {
			continue
		}
		seen[splitter] = struct{}{}
		out = append(out, splitter)
	}
	return out
}

// distributionRecords decodes payouts and joins each with its sale, the
// recipient's share, the token name and the block time. Every join falls back
// to a default instead of dropping the record.
func (b *Builder) distributionRecords(ctx context.Context, head uint64, logs []types.Log) []RoyaltyDistributionRecord {
	type pending struct {
		rec      RoyaltyDistributionRecord
		ev       eth.DecodedEvent
		splitter common.Address
	}
	var items []pending
	seen := make(map[string]struct{})
	for _, ev := range b.decoder.DecodeAll(logs) {
		if ev.Schema.Name != eth.RoyaltyDistributed.Name {
			continue
		}
		recipient, rerr := ev.Address("recipient")
		id, ierr := ev.BigInt("tokenId")
		amount, aerr := ev.BigInt("amount")
		if rerr != nil || ierr != nil || aerr != nil {
			continue
		}
		lg := ev.Log
		key := RecordID(hexHash(lg.TxHash), KindRoyaltyPayment, lg.Index)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		recipientHex := hexAddress(recipient)
		items = append(items, pending{
			ev:       ev,
			splitter: lg.Address,
			rec: RoyaltyDistributionRecord{
				TokenID:          id.String(),
				SplitterAddress:  hexAddress(lg.Address),
				RecipientAddress: recipientHex,
				RecipientName:    stringtools.ShortenAddress(recipientHex),
				Amount:           minorString(amount),
				AmountFormatted:  ToDecimal(amount).String(),
				SalePrice:        "0",
				TotalRoyalty:     "0",
				BlockNumber:      lg.BlockNumber,
				LogIndex:         lg.Index,
				TransactionHash:  hexHash(lg.TxHash),
			},
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].rec.BlockNumber != items[j].rec.BlockNumber {
			return items[i].rec.BlockNumber < items[j].rec.BlockNumber
		}
		return items[i].rec.LogIndex < items[j].rec.LogIndex
	})

	shares := b.joiner.NewShareMemo()
	b.forEach(ctx, len(items), func(ctx context.Context, i int) {
		it := &items[i]
		id, _ := it.ev.BigInt("tokenId")
		recipient, _ := it.ev.Address("recipient")

		sale := b.joiner.SaleAt(ctx, head, id, it.rec.BlockNumber)
		it.rec.SalePrice, it.rec.TotalRoyalty = sale.SalePrice, sale.Royalty
		it.rec.Percentage = shares.ShareOf(ctx, it.splitter, recipient)
		it.rec.NFTDisplayName = b.names.Name(ctx, id)
		it.rec.Timestamp = b.blockTime(ctx, it.rec.BlockNumber)
	})

	records := make([]RoyaltyDistributionRecord, len(items))
	for i, it := range items {
		records[i] = it.rec
	}
	return records
}
