package royalty

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/6529-Collections/royaltynode/internal/eth/ethtest"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientRoyalties_Enriched(t *testing.T) {
	chain := ethtest.NewChain(200)
	mintListBuy(chain)
	chain.HandleCalls(splitterAddr, ethtest.SharesHandler(
		[]common.Address{addrC, addrD},
		[]*big.Int{big.NewInt(2500), big.NewInt(7500)},
	))
	b := newTestBuilder(t, chain, stubNames{"7": "Sunset"})

	res, err := b.RecipientRoyalties(context.Background(), addrC.Hex())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, "7", rec.TokenID)
	assert.Equal(t, "Sunset", rec.NFTDisplayName)
	assert.Equal(t, lower(splitterAddr), rec.SplitterAddress)
	assert.Equal(t, lower(addrC), rec.RecipientAddress)
	assert.Equal(t, "0xcccc...0003", rec.RecipientName)
	assert.Equal(t, "100000000000000000", rec.Amount)
	assert.Equal(t, "0.1", rec.AmountFormatted)
	assert.InDelta(t, 25.0, rec.Percentage, 1e-9)
	assert.Equal(t, "1000000000000000000", rec.SalePrice)
	assert.Equal(t, "100000000000000000", rec.TotalRoyalty)
	assert.Equal(t, ethtest.GenesisTime+120*12, rec.Timestamp)

	assert.Equal(t, "0.1", res.Summary.TotalEarnings)
	assert.Equal(t, 1, res.Summary.TotalDistributions)
	assert.Equal(t, TopEntity{ID: "7", Name: "Sunset", Earnings: "0.1"}, res.Summary.TopEntity)
}

func TestRecipientRoyalties_EnrichmentDefaults(t *testing.T) {
	chain := ethtest.NewChain(200)
	// No sale in the distribution's block and no share table on the splitter.
	chain.AddLog(distributedLog(splitterAddr, 150, tx(9), 0, 4, addrC, big.NewInt(42)))
	chain.AddLog(saleLog(151, tx(10), 0, 4, addrB, addrA, oneToken, tenthToken))
	chain.HandleCalls(nftAddr, ethtest.NFTHandler(nil, map[string]common.Address{"4": splitterAddr}))
	b := newTestBuilder(t, chain, nil)

	res, err := b.RecipientRoyalties(context.Background(), addrC.Hex())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Zero(t, rec.Percentage)
	assert.Equal(t, "0", rec.SalePrice)
	assert.Equal(t, "0", rec.TotalRoyalty)
	assert.Equal(t, "NFT #4", rec.NFTDisplayName)
	assert.Equal(t, "42", rec.Amount)
}

func TestRecipientRoyalties_SaleJoinFailure(t *testing.T) {
	chain := ethtest.NewChain(200)
	mintListBuy(chain)
	b := newTestBuilder(t, chain, nil)

	// The payout query succeeds, every later Sale lookup fails.
	chain.FailFilter = func(q ethereum.FilterQuery) error {
		if q.FromBlock != nil && q.ToBlock != nil && q.FromBlock.Cmp(q.ToBlock) == 0 {
			return errors.New("timeout")
		}
		return nil
	}

	res, err := b.RecipientRoyalties(context.Background(), addrC.Hex())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "0", res.Records[0].SalePrice)
	assert.Equal(t, "0", res.Records[0].TotalRoyalty)
}

func TestRecipientRoyalties_IgnoresUnknownSplitters(t *testing.T) {
	chain := ethtest.NewChain(200)
	mintListBuy(chain)
	// A contract that is not token 7's splitter emitting the same event.
	chain.AddLog(distributedLog(otherSplit, 130, tx(8), 0, 7, addrC, oneToken))
	// A token the NFT contract does not know.
	chain.AddLog(distributedLog(splitterAddr, 131, tx(9), 0, 99, addrC, oneToken))
	b := newTestBuilder(t, chain, nil)

	res, err := b.RecipientRoyalties(context.Background(), addrC.Hex())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, lower(splitterAddr), res.Records[0].SplitterAddress)
	assert.Equal(t, "100000000000000000", res.Records[0].Amount)
	assert.Equal(t, "0.1", res.Summary.TotalEarnings)

	hist, err := b.History(context.Background(), addrC.Hex())
	require.NoError(t, err)
	payouts := kinds(hist.Records)[KindRoyaltyPayment]
	require.Len(t, payouts, 1)
	assert.Equal(t, lower(splitterAddr), payouts[0].SplitterAddress)
}

func TestRecipientRoyalties_QueryFailure(t *testing.T) {
	chain := ethtest.NewChain(200)
	chain.FailFilter = func(q ethereum.FilterQuery) error { return errors.New("down") }
	b := newTestBuilder(t, chain, nil)

	_, err := b.RecipientRoyalties(context.Background(), addrC.Hex())
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
}

func TestRecipientRoyalties_Empty(t *testing.T) {
	b := newTestBuilder(t, ethtest.NewChain(200), nil)

	res, err := b.RecipientRoyalties(context.Background(), addrD.Hex())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, NoEntity, res.Summary.TopEntity)
	assert.Equal(t, "0", res.Summary.AverageRoyalty)
}

func TestCreatorRoyalties_GroupsByRecipient(t *testing.T) {
	chain := ethtest.NewChain(200)
	chain.AddLog(mintedLog(100, tx(1), 0, 7, addrA, splitterAddr))
	chain.AddLog(distributedLog(splitterAddr, 120, tx(2), 0, 7, addrC, big.NewInt(30)))
	chain.AddLog(distributedLog(splitterAddr, 120, tx(2), 1, 7, addrD, big.NewInt(70)))
	chain.AddLog(distributedLog(splitterAddr, 130, tx(3), 0, 7, addrC, big.NewInt(30)))
	// Another creator's splitter paying the same recipient.
	chain.AddLog(mintedLog(101, tx(4), 0, 8, addrB, otherSplit))
	chain.AddLog(distributedLog(otherSplit, 140, tx(5), 0, 8, addrC, big.NewInt(1000)))
	b := newTestBuilder(t, chain, nil)

	res, err := b.CreatorRoyalties(context.Background(), addrA.Hex())
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	for _, r := range res.Records {
		assert.Equal(t, lower(splitterAddr), r.SplitterAddress)
	}
	assert.Equal(t, "0.00000000000000013", res.Summary.TotalEarnings)
	assert.Equal(t, lower(addrD), res.Summary.TopEntity.ID)
	assert.Equal(t, "0xdddd...0004", res.Summary.TopEntity.Name)
	assert.Equal(t, uint64(130), res.Records[0].BlockNumber)
}

func TestCreatorRoyalties_SplitterFromContractCall(t *testing.T) {
	chain := ethtest.NewChain(200)
	chain.AddLog(mintedLog(100, tx(1), 0, 9, addrA, common.Address{}))
	chain.AddLog(distributedLog(splitterAddr, 120, tx(2), 0, 9, addrC, big.NewInt(5)))
	chain.HandleCalls(nftAddr, ethtest.NFTHandler(nil, map[string]common.Address{"9": splitterAddr}))
	b := newTestBuilder(t, chain, nil)

	res, err := b.CreatorRoyalties(context.Background(), addrA.Hex())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "5", res.Records[0].Amount)
}

func TestCreatorRoyalties_NoMints(t *testing.T) {
	chain := ethtest.NewChain(200)
	chain.AddLog(distributedLog(splitterAddr, 120, tx(2), 0, 7, addrC, big.NewInt(30)))
	b := newTestBuilder(t, chain, nil)

	res, err := b.CreatorRoyalties(context.Background(), addrA.Hex())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, NoEntity, res.Summary.TopEntity)
}
