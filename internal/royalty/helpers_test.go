package royalty

import (
	"context"
	"math/big"
	"testing"

	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/6529-Collections/royaltynode/internal/eth/ethtest"
	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	nftAddr      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	routerAddr   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenAddr    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	splitterAddr = common.HexToAddress("0x4000000000000000000000000000000000000004")
	otherSplit   = common.HexToAddress("0x5000000000000000000000000000000000000005")
	addrA        = common.HexToAddress("0xAAAA000000000000000000000000000000000001")
	addrB        = common.HexToAddress("0xBBBB000000000000000000000000000000000002")
	addrC        = common.HexToAddress("0xCCCC000000000000000000000000000000000003")
	addrD        = common.HexToAddress("0xDDDD000000000000000000000000000000000004")

	oneToken   = mustBig("1000000000000000000")
	tenthToken = mustBig("100000000000000000")
)

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return n
}

func tx(n byte) common.Hash {
	return common.BytesToHash([]byte{0xee, n})
}

func lower(addr common.Address) string {
	return hexAddress(addr)
}

type stubNames map[string]string

func (s stubNames) Name(_ context.Context, tokenID *big.Int) string {
	if name, ok := s[tokenID.String()]; ok {
		return name
	}
	return "NFT #" + tokenID.String()
}

func newTestBuilder(t *testing.T, chain *ethtest.Chain, names NameResolver) *Builder {
	t.Helper()
	fetcher := eth.NewFetcher(chain, 1000)
	joiner := eth.NewJoiner(fetcher, nftAddr, routerAddr, nil)
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	return NewBuilder(fetcher, joiner, names, Contracts{NFT: nftAddr, Router: routerAddr, PaymentToken: tokenAddr}, pool)
}

func transferLog(block uint64, txHash common.Hash, index uint, from, to common.Address, tokenID int64) types.Log {
	return ethtest.EventLog(nftAddr, eth.NFTTransfer, block, txHash, index, []interface{}{from, to, big.NewInt(tokenID)})
}

func mintedLog(block uint64, txHash common.Hash, index uint, tokenID int64, creator, splitter common.Address) types.Log {
	return ethtest.EventLog(nftAddr, eth.TokenMinted, block, txHash, index, []interface{}{big.NewInt(tokenID), creator, splitter}, "ipfs://bafy/meta.json")
}

func listedLog(block uint64, txHash common.Hash, index uint, tokenID int64, seller common.Address, price *big.Int) types.Log {
	return ethtest.EventLog(routerAddr, eth.Listed, block, txHash, index, []interface{}{big.NewInt(tokenID), seller}, price)
}

func cancelledLog(block uint64, txHash common.Hash, index uint, tokenID int64, seller common.Address) types.Log {
	return ethtest.EventLog(routerAddr, eth.ListingCancelled, block, txHash, index, []interface{}{big.NewInt(tokenID), seller})
}

func saleLog(block uint64, txHash common.Hash, index uint, tokenID int64, buyer, seller common.Address, price, royalty *big.Int) types.Log {
	return ethtest.EventLog(routerAddr, eth.Sale, block, txHash, index, []interface{}{big.NewInt(tokenID), buyer, seller}, price, royalty)
}

func paymentLog(block uint64, txHash common.Hash, index uint, from, to common.Address, value *big.Int) types.Log {
	return ethtest.EventLog(tokenAddr, eth.TokenTransfer, block, txHash, index, []interface{}{from, to}, value)
}

func distributedLog(splitter common.Address, block uint64, txHash common.Hash, index uint, tokenID int64, recipient common.Address, amount *big.Int) types.Log {
	return ethtest.EventLog(splitter, eth.RoyaltyDistributed, block, txHash, index, []interface{}{big.NewInt(tokenID), recipient}, amount)
}

// mintListBuy seeds: A mints token 7, lists it for 1.0 and B buys it, paying
// 0.1 royalty that the splitter passes on to C.
func mintListBuy(chain *ethtest.Chain) {
	chain.HandleCalls(nftAddr, ethtest.NFTHandler(nil, map[string]common.Address{"7": splitterAddr}))
	chain.AddLog(transferLog(100, tx(1), 0, eth.ZeroAddress, addrA, 7))
	chain.AddLog(mintedLog(100, tx(1), 1, 7, addrA, splitterAddr))
	chain.AddLog(listedLog(110, tx(2), 0, 7, addrA, oneToken))
	chain.AddLog(paymentLog(120, tx(3), 0, addrB, routerAddr, oneToken))
	chain.AddLog(transferLog(120, tx(3), 1, addrA, addrB, 7))
	chain.AddLog(distributedLog(splitterAddr, 120, tx(3), 2, 7, addrC, tenthToken))
	chain.AddLog(saleLog(120, tx(3), 3, 7, addrB, addrA, oneToken, tenthToken))
}

func kinds(records []TransactionRecord) map[Kind][]TransactionRecord {
	out := make(map[Kind][]TransactionRecord)
	for _, r := range records {
		out[r.Kind] = append(out[r.Kind], r)
	}
	return out
}
