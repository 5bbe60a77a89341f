package royalty

import (
	"fmt"
	"strings"

	"github.com/6529-Collections/royaltynode/pkg/stringtools"
	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindMint           Kind = "MINT"
	KindTransfer       Kind = "TRANSFER"
	KindSale           Kind = "SALE"
	KindBought         Kind = "BOUGHT"
	KindRoyaltyPayment Kind = "ROYALTY_PAYMENT"
	KindTokenTransfer  Kind = "TOKEN_TRANSFER"
)

type TokenKind string

const (
	TokenNative   TokenKind = "NATIVE"
	TokenNFT      TokenKind = "NFT"
	TokenFungible TokenKind = "FUNGIBLE"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusPending Status = "PENDING"
)

// TransactionRecord is one history line derived from one log. Records are
// rebuilt wholesale on every refresh and never edited afterwards.
type TransactionRecord struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	TransactionHash string    `json:"transactionHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	LogIndex        uint      `json:"logIndex"`
	Timestamp       uint64    `json:"timestamp"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	TokenID         string    `json:"tokenId,omitempty"`
	Amount          string    `json:"amount"`
	TokenKind       TokenKind `json:"tokenKind"`
	Status          Status    `json:"status"`
	RoyaltyAmount   string    `json:"royaltyAmount,omitempty"`
	SplitterAddress string    `json:"splitterAddress,omitempty"`
}

// Listing is a router listing by the history's address that is still open
// at the scanned block.
type Listing struct {
	TokenID         string `json:"tokenId"`
	Price           string `json:"price"`
	BlockNumber     uint64 `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
}

// RoyaltyDistributionRecord is one splitter payout to one recipient.
type RoyaltyDistributionRecord struct {
	TokenID          string  `json:"tokenId"`
	NFTDisplayName   string  `json:"nftDisplayName"`
	SplitterAddress  string  `json:"splitterAddress"`
	RecipientAddress string  `json:"recipientAddress"`
	RecipientName    string  `json:"recipientName"`
	Amount           string  `json:"amount"`
	AmountFormatted  string  `json:"amountFormatted"`
	Percentage       float64 `json:"percentage"`
	SalePrice        string  `json:"salePrice"`
	TotalRoyalty     string  `json:"totalRoyalty"`
	BlockNumber      uint64  `json:"blockNumber"`
	LogIndex         uint    `json:"logIndex"`
	Timestamp        uint64  `json:"timestamp"`
	TransactionHash  string  `json:"transactionHash"`
}

func RecordID(txHash string, kind Kind, logIndex uint) string {
	return fmt.Sprintf("%s-%s-%d", txHash, kind, logIndex)
}

func hexAddress(addr common.Address) string {
	return stringtools.NormalizeAddress(addr.Hex())
}

func hexHash(h common.Hash) string {
	return strings.ToLower(h.Hex())
}
