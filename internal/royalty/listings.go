package royalty

import (
	"sort"

	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/ethereum/go-ethereum/core/types"
)

// activeListings replays the seller's listings in chain order. A listing
// closes when it is cancelled, when the token sells, or when the token leaves
// the seller by any other transfer. A newer listing of the same token
// replaces the older one.
func (b *Builder) activeListings(logs map[string][]types.Log) []Listing {
	var events []eth.DecodedEvent
	for _, name := range []string{sourceListings, sourceCancels, sourceSales, sourceNFTOut} {
		events = append(events, b.decoder.DecodeAll(logs[name])...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, c := events[i].Log, events[j].Log
		if a.BlockNumber != c.BlockNumber {
			return a.BlockNumber < c.BlockNumber
		}
		return a.Index < c.Index
	})

	open := make(map[string]Listing)
	for _, ev := range events {
		id, err := ev.BigInt("tokenId")
		if err != nil {
			continue
		}
		tokenID := id.String()
		switch ev.Schema.Name {
		case eth.Listed.Name:
			price, err := ev.BigInt("price")
			if err != nil {
				continue
			}
			open[tokenID] = Listing{
				TokenID:         tokenID,
				Price:           minorString(price),
				BlockNumber:     ev.Log.BlockNumber,
				TransactionHash: hexHash(ev.Log.TxHash),
			}
		case eth.ListingCancelled.Name, eth.Sale.Name, eth.NFTTransfer.Name:
			delete(open, tokenID)
		}
	}

	if len(open) == 0 {
		return nil
	}
	out := make([]Listing, 0, len(open))
	for _, l := range open {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out
}
