package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ZeroAddress = common.Address{}

var (
	nftABI = mustParseABI("nft", `[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "from",    "type": "address"},
            {"indexed": true, "name": "to",      "type": "address"},
            {"indexed": true, "name": "tokenId", "type": "uint256"}
        ],
        "name": "Transfer",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true,  "name": "tokenId",  "type": "uint256"},
            {"indexed": true,  "name": "creator",  "type": "address"},
            {"indexed": true,  "name": "splitter", "type": "address"},
            {"indexed": false, "name": "tokenURI", "type": "string"}
        ],
        "name": "TokenMinted",
        "type": "event"
    },
    {
        "inputs": [{"name": "tokenId", "type": "uint256"}],
        "name": "tokenURI",
        "outputs": [{"name": "", "type": "string"}],
        "stateMutability": "view",
        "type": "function"
    },
    {
        "inputs": [{"name": "tokenId", "type": "uint256"}],
        "name": "splitterOf",
        "outputs": [{"name": "", "type": "address"}],
        "stateMutability": "view",
        "type": "function"
    }
	]`)

	routerABI = mustParseABI("router", `[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true,  "name": "tokenId", "type": "uint256"},
            {"indexed": true,  "name": "seller",  "type": "address"},
            {"indexed": false, "name": "price",   "type": "uint256"}
        ],
        "name": "Listed",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "tokenId", "type": "uint256"},
            {"indexed": true, "name": "seller",  "type": "address"}
        ],
        "name": "ListingCancelled",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true,  "name": "tokenId", "type": "uint256"},
            {"indexed": true,  "name": "buyer",   "type": "address"},
            {"indexed": true,  "name": "seller",  "type": "address"},
            {"indexed": false, "name": "price",   "type": "uint256"},
            {"indexed": false, "name": "royalty", "type": "uint256"}
        ],
        "name": "Sale",
        "type": "event"
    }
	]`)

	splitterABI = mustParseABI("splitter", `[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true,  "name": "tokenId",   "type": "uint256"},
            {"indexed": true,  "name": "recipient", "type": "address"},
            {"indexed": false, "name": "amount",    "type": "uint256"}
        ],
        "name": "RoyaltyDistributed",
        "type": "event"
    },
    {
        "inputs": [],
        "name": "getShares",
        "outputs": [
            {"name": "recipients", "type": "address[]"},
            {"name": "bps",        "type": "uint256[]"}
        ],
        "stateMutability": "view",
        "type": "function"
    }
	]`)

	erc20ABI = mustParseABI("erc20", `[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true,  "name": "from",  "type": "address"},
            {"indexed": true,  "name": "to",    "type": "address"},
            {"indexed": false, "name": "value", "type": "uint256"}
        ],
        "name": "Transfer",
        "type": "event"
    }
	]`)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// Known event shapes. NFTTransfer and TokenTransfer share topic0 and differ only by topic count.
var (
	NFTTransfer        = EventSchema{Name: "NFTTransfer", Event: nftABI.Events["Transfer"]}
	TokenMinted        = EventSchema{Name: "TokenMinted", Event: nftABI.Events["TokenMinted"]}
	Listed             = EventSchema{Name: "Listed", Event: routerABI.Events["Listed"]}
	ListingCancelled   = EventSchema{Name: "ListingCancelled", Event: routerABI.Events["ListingCancelled"]}
	Sale               = EventSchema{Name: "Sale", Event: routerABI.Events["Sale"]}
	RoyaltyDistributed = EventSchema{Name: "RoyaltyDistributed", Event: splitterABI.Events["RoyaltyDistributed"]}
	TokenTransfer      = EventSchema{Name: "TokenTransfer", Event: erc20ABI.Events["Transfer"]}
)

// AllSchemas is the probing order used by the default decoder.
var AllSchemas = []EventSchema{
	NFTTransfer,
	TokenTransfer,
	TokenMinted,
	Listed,
	ListingCancelled,
	Sale,
	RoyaltyDistributed,
}

func NFTABI() abi.ABI      { return nftABI }
func RouterABI() abi.ABI   { return routerABI }
func SplitterABI() abi.ABI { return splitterABI }
func ERC20ABI() abi.ABI    { return erc20ABI }
