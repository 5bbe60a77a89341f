package royalty

import (
	"context"
	"math/big"
	"sort"

	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	sourceNFTIn       = "nft-in"
	sourceNFTOut      = "nft-out"
	sourceMinted      = "minted"
	sourceSales       = "sales"
	sourcePurchases   = "purchases"
	sourceRoyalties   = "royalties"
	sourceTokenIn     = "token-in"
	sourceTokenOut    = "token-out"
	sourceDistributed = "distributions"
	sourceCreations   = "creations"
	sourceListings    = "listings"
	sourceCancels     = "listing-cancels"
)

// History derives the transaction history of one address.
func (b *Builder) History(ctx context.Context, address string) (Result[TransactionRecord], error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return Result[TransactionRecord]{}, err
	}
	head, err := b.head(ctx)
	if err != nil {
		return Result[TransactionRecord]{}, err
	}

	logs, failed, err := b.fetch(ctx, b.historySources(head, addr))
	if err != nil {
		return Result[TransactionRecord]{}, err
	}
	if len(logs[sourceRoyalties]) > 0 {
		logs[sourceRoyalties] = b.fromKnownSplitters(ctx, logs[sourceRoyalties])
	}

	splitters := b.mintedSplitters(logs[sourceMinted])
	var records []TransactionRecord
	for _, name := range sortedKeys(logs) {
		for _, ev := range b.decoder.DecodeAll(logs[name]) {
			rec, ok := toTransactionRecord(name, ev)
			if !ok {
				continue
			}
			if rec.Kind == KindMint {
				rec.SplitterAddress = splitters[rec.TokenID]
			}
			records = append(records, rec)
		}
	}

	records = canonicalOrder(records)
	records = DedupeRecords(records)
	records = SuppressCoveredTransfers(records)
	b.enrichHistory(ctx, records)

	sorted, summary := AggregateHistory(records)
	summary.ActiveListings = b.activeListings(logs)
	zap.L().Debug("Built transaction history",
		zap.String("address", hexAddress(addr)),
		zap.Int("records", len(sorted)),
		zap.Int("activeListings", len(summary.ActiveListings)),
		zap.Int("failedSources", len(failed)),
	)
	return Result[TransactionRecord]{
		Records:      sorted,
		Summary:      summary,
		ScannedBlock: head,
		SourceErrors: failed,
	}, nil
}

func (b *Builder) historySources(head uint64, addr common.Address) []eth.Source {
	nft := []common.Address{b.contracts.NFT}
	router := []common.Address{b.contracts.Router}
	sources := []eth.Source{
		b.source(sourceNFTIn, head, eth.LogQuery{Contracts: nft, Event: eth.NFTTransfer, Topics: addressTopics(nil, &addr)}),
		b.source(sourceNFTOut, head, eth.LogQuery{Contracts: nft, Event: eth.NFTTransfer, Topics: addressTopics(&addr)}),
		b.source(sourceMinted, head, eth.LogQuery{Contracts: nft, Event: eth.TokenMinted, Topics: addressTopics(nil, &addr)}),
		b.source(sourceSales, head, eth.LogQuery{Contracts: router, Event: eth.Sale, Topics: addressTopics(nil, nil, &addr)}),
		b.source(sourcePurchases, head, eth.LogQuery{Contracts: router, Event: eth.Sale, Topics: addressTopics(nil, &addr)}),
		b.source(sourceRoyalties, head, eth.LogQuery{Event: eth.RoyaltyDistributed, Topics: addressTopics(nil, &addr)}),
		b.source(sourceListings, head, eth.LogQuery{Contracts: router, Event: eth.Listed, Topics: addressTopics(nil, &addr)}),
		b.source(sourceCancels, head, eth.LogQuery{Contracts: router, Event: eth.ListingCancelled, Topics: addressTopics(nil, &addr)}),
	}
	if b.contracts.PaymentToken != eth.ZeroAddress {
		token := []common.Address{b.contracts.PaymentToken}
		sources = append(sources,
			b.source(sourceTokenIn, head, eth.LogQuery{Contracts: token, Event: eth.TokenTransfer, Topics: addressTopics(nil, &addr)}),
			b.source(sourceTokenOut, head, eth.LogQuery{Contracts: token, Event: eth.TokenTransfer, Topics: addressTopics(&addr)}),
		)
	}
	return sources
}

// mintedSplitters maps token ids to the splitter their TokenMinted event named.
func (b *Builder) mintedSplitters(logs []types.Log) map[string]string {
	out := make(map[string]string)
	for _, ev := range b.decoder.DecodeAll(logs) {
		if ev.Schema.Name != eth.TokenMinted.Name {
			continue
		}
		id, err := ev.BigInt("tokenId")
		if err != nil {
			continue
		}
		splitter, err := ev.Address("splitter")
		if err != nil || splitter == eth.ZeroAddress {
			continue
		}
		out[id.String()] = hexAddress(splitter)
	}
	return out
}

// toTransactionRecord turns a decoded log into a history record. The source
// decides the perspective: a Sale is SALE for the seller and BOUGHT for the buyer.
func toTransactionRecord(source string, ev eth.DecodedEvent) (TransactionRecord, bool) {
	lg := ev.Log
	rec := TransactionRecord{
		TransactionHash: hexHash(lg.TxHash),
		BlockNumber:     lg.BlockNumber,
		LogIndex:        lg.Index,
		Amount:          "0",
		Status:          StatusSuccess,
	}

	switch ev.Schema.Name {
	case eth.NFTTransfer.Name:
		if source != sourceNFTIn && source != sourceNFTOut {
			return rec, false
		}
		from, ferr := ev.Address("from")
		to, terr := ev.Address("to")
		id, ierr := ev.BigInt("tokenId")
		if ferr != nil || terr != nil || ierr != nil {
			return rec, false
		}
		rec.Kind = KindTransfer
		if ev.IsMint() {
			rec.Kind = KindMint
		}
		rec.From, rec.To, rec.TokenID = hexAddress(from), hexAddress(to), id.String()
		rec.TokenKind = TokenNFT

	case eth.Sale.Name:
		buyer, berr := ev.Address("buyer")
		seller, serr := ev.Address("seller")
		id, ierr := ev.BigInt("tokenId")
		price, perr := ev.BigInt("price")
		royalty, rerr := ev.BigInt("royalty")
		if berr != nil || serr != nil || ierr != nil || perr != nil || rerr != nil {
			return rec, false
		}
		switch source {
		case sourceSales:
			rec.Kind = KindSale
		case sourcePurchases:
			rec.Kind = KindBought
		default:
			return rec, false
		}
		rec.From, rec.To, rec.TokenID = hexAddress(seller), hexAddress(buyer), id.String()
		rec.Amount = minorString(price)
		rec.RoyaltyAmount = minorString(royalty)
		rec.TokenKind = TokenNFT

	case eth.RoyaltyDistributed.Name:
		recipient, rerr := ev.Address("recipient")
		id, ierr := ev.BigInt("tokenId")
		amount, aerr := ev.BigInt("amount")
		if rerr != nil || ierr != nil || aerr != nil {
			return rec, false
		}
		rec.Kind = KindRoyaltyPayment
		rec.From, rec.To, rec.TokenID = hexAddress(lg.Address), hexAddress(recipient), id.String()
		rec.Amount = minorString(amount)
		rec.RoyaltyAmount = rec.Amount
		rec.SplitterAddress = hexAddress(lg.Address)
		rec.TokenKind = TokenFungible

	case eth.TokenTransfer.Name:
		from, ferr := ev.Address("from")
		to, terr := ev.Address("to")
		value, verr := ev.BigInt("value")
		if ferr != nil || terr != nil || verr != nil {
			return rec, false
		}
		rec.Kind = KindTokenTransfer
		rec.From, rec.To = hexAddress(from), hexAddress(to)
		rec.Amount = minorString(value)
		rec.TokenKind = TokenFungible

	default:
		return rec, false
	}

	rec.ID = RecordID(rec.TransactionHash, rec.Kind, rec.LogIndex)
	return rec, true
}

// canonicalOrder puts records in chain order so every later fold is deterministic.
func canonicalOrder(records []TransactionRecord) []TransactionRecord {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex < b.LogIndex
		}
		return a.Kind < b.Kind
	})
	return records
}

type hashKind struct {
	hash string
	kind Kind
}

// DedupeRecords keeps the first record for every (transaction hash, kind).
func DedupeRecords(records []TransactionRecord) []TransactionRecord {
	seen := make(map[hashKind]struct{}, len(records))
	out := make([]TransactionRecord, 0, len(records))
	for _, r := range records {
		key := hashKind{hash: r.TransactionHash, kind: r.Kind}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SuppressCoveredTransfers drops the plain legs of a marketplace settlement:
// the NFT transfer of a token sold in the same transaction, and payment-token
// transfers in a transaction that already has a sale, purchase or royalty record.
func SuppressCoveredTransfers(records []TransactionRecord) []TransactionRecord {
	type txToken struct {
		hash    string
		tokenID string
	}
	sold := make(map[txToken]struct{})
	settled := make(map[string]struct{})
	for _, r := range records {
		switch r.Kind {
		case KindSale, KindBought:
			sold[txToken{r.TransactionHash, r.TokenID}] = struct{}{}
			settled[r.TransactionHash] = struct{}{}
		case KindRoyaltyPayment:
			settled[r.TransactionHash] = struct{}{}
		}
	}

	out := make([]TransactionRecord, 0, len(records))
	for _, r := range records {
		switch r.Kind {
		case KindTransfer:
			if _, ok := sold[txToken{r.TransactionHash, r.TokenID}]; ok {
				continue
			}
		case KindTokenTransfer:
			if _, ok := settled[r.TransactionHash]; ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (b *Builder) enrichHistory(ctx context.Context, records []TransactionRecord) {
	b.forEach(ctx, len(records), func(ctx context.Context, i int) {
		r := &records[i]
		r.Timestamp = b.blockTime(ctx, r.BlockNumber)
		r.Status = b.status(ctx, r.TransactionHash)
		if r.Kind == KindMint && r.SplitterAddress == "" {
			id, ok := new(big.Int).SetString(r.TokenID, 10)
			if !ok {
				return
			}
			splitter, err := b.joiner.SplitterOf(ctx, id)
			if err != nil || splitter == eth.ZeroAddress {
				return
			}
			r.SplitterAddress = hexAddress(splitter)
		}
	})
}
