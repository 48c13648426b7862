package domain

import "time"

// BalanceQuote is the raw result of a balance fetch for one account.
type BalanceQuote struct {
	SolBalance    float64 `json:"sol_balance"`
	SolBalanceUSD float64 `json:"sol_balance_usd"`
}

// BalanceEntry is one BalanceMap value. Entries are replaced as a whole,
// never updated field by field.
type BalanceEntry struct {
	SolBalance    float64   `json:"sol_balance"`
	SolBalanceUSD float64   `json:"sol_balance_usd"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

// NewBalanceEntry stamps a quote with its fetch time.
func NewBalanceEntry(q BalanceQuote, fetchedAt time.Time) BalanceEntry {
	return BalanceEntry{
		SolBalance:    q.SolBalance,
		SolBalanceUSD: q.SolBalanceUSD,
		LastFetchedAt: fetchedAt,
	}
}
