package royalty

import (
	"math/big"
	"sort"

	"github.com/6529-Collections/royaltynode/internal/metadata"
	"github.com/shopspring/decimal"
)

// RecentCount is how many of the newest records a summary carries.
const RecentCount = 10

type TopEntity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Earnings string `json:"earnings"`
}

// NoEntity is the top entity of an empty fold. ID "0" means "no data".
var NoEntity = TopEntity{ID: "0", Name: "None", Earnings: "0"}

type Summary[R any] struct {
	TotalEarnings      string    `json:"totalEarnings"`
	TotalDistributions int       `json:"totalDistributions"`
	AverageRoyalty     string    `json:"averageRoyalty"`
	TopEntity          TopEntity `json:"topEntity"`
	RecentRecords      []R       `json:"recentRecords"`
	// ActiveListings is only set on transaction histories.
	ActiveListings []Listing `json:"activeListings,omitempty"`
}

// Fold tells Aggregate how to read a record.
type Fold[R any] struct {
	Amount    func(R) string
	Entity    func(R) (id, name string)
	Timestamp func(R) uint64
}

type group struct {
	id       string
	name     string
	earnings *big.Int
}

// Aggregate sums amounts, groups them per entity and sorts the records newest
// first. The input is not modified. Groups keep the name of the first record
// seen for their id, and ties for the top entity go to the first group seen.
func Aggregate[R any](records []R, f Fold[R]) ([]R, Summary[R]) {
	total := new(big.Int)
	var order []*group
	groups := make(map[string]*group)

	for _, r := range records {
		amount := ParseMinor(f.Amount(r))
		total.Add(total, amount)

		id, name := f.Entity(r)
		g, ok := groups[id]
		if !ok {
			g = &group{id: id, name: name, earnings: new(big.Int)}
			groups[id] = g
			order = append(order, g)
		}
		g.earnings.Add(g.earnings, amount)
	}

	top := NoEntity
	topEarnings := new(big.Int)
	for _, g := range order {
		if g.earnings.Cmp(topEarnings) > 0 {
			topEarnings = g.earnings
			top = TopEntity{ID: g.id, Name: g.name, Earnings: ToDecimal(g.earnings).String()}
		}
	}

	average := decimal.Zero
	if len(records) > 0 {
		average = ToDecimal(total).DivRound(decimal.NewFromInt(int64(len(records))), Decimals)
	}

	sorted := SortNewestFirst(records, f.Timestamp)
	n := len(sorted)
	if n > RecentCount {
		n = RecentCount
	}
	recent := make([]R, n)
	copy(recent, sorted[:n])

	return sorted, Summary[R]{
		TotalEarnings:      ToDecimal(total).String(),
		TotalDistributions: len(records),
		AverageRoyalty:     average.String(),
		TopEntity:          top,
		RecentRecords:      recent,
	}
}

// SortNewestFirst returns a copy sorted by timestamp, descending. Equal
// timestamps keep their input order.
func SortNewestFirst[R any](records []R, ts func(R) uint64) []R {
	out := make([]R, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return ts(out[i]) > ts(out[j])
	})
	return out
}

var historyFold = Fold[TransactionRecord]{
	Amount: func(r TransactionRecord) string {
		switch r.Kind {
		case KindSale, KindRoyaltyPayment:
			return r.Amount
		}
		return "0"
	},
	Entity: func(r TransactionRecord) (string, string) {
		if r.TokenID == "" {
			return "0", "None"
		}
		return r.TokenID, metadata.PlaceholderName(r.TokenID)
	},
	Timestamp: func(r TransactionRecord) uint64 { return r.Timestamp },
}

var byTokenFold = Fold[RoyaltyDistributionRecord]{
	Amount:    func(r RoyaltyDistributionRecord) string { return r.Amount },
	Entity:    func(r RoyaltyDistributionRecord) (string, string) { return r.TokenID, r.NFTDisplayName },
	Timestamp: func(r RoyaltyDistributionRecord) uint64 { return r.Timestamp },
}

var byRecipientFold = Fold[RoyaltyDistributionRecord]{
	Amount:    func(r RoyaltyDistributionRecord) string { return r.Amount },
	Entity:    func(r RoyaltyDistributionRecord) (string, string) { return r.RecipientAddress, r.RecipientName },
	Timestamp: func(r RoyaltyDistributionRecord) uint64 { return r.Timestamp },
}

// AggregateHistory counts sale proceeds and royalty income per token.
func AggregateHistory(records []TransactionRecord) ([]TransactionRecord, Summary[TransactionRecord]) {
	return Aggregate(records, historyFold)
}

func AggregateByToken(records []RoyaltyDistributionRecord) ([]RoyaltyDistributionRecord, Summary[RoyaltyDistributionRecord]) {
	return Aggregate(records, byTokenFold)
}

func AggregateByRecipient(records []RoyaltyDistributionRecord) ([]RoyaltyDistributionRecord, Summary[RoyaltyDistributionRecord]) {
	return Aggregate(records, byRecipientFold)
}
