package domain

import "strings"

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes wire values ("buy", "BUY", "Sell") to a Side.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// TradeEvent is a single observed trade. ID is the transaction hash and the
// natural dedup key across the push feed and the pull history.
// Values are immutable once observed; pass by value.
type TradeEvent struct {
	ID              string  `json:"id"`
	SubjectKey      string  `json:"subject_key"`
	TimestampMillis int64   `json:"timestamp"`
	Side            Side    `json:"side"`
	PriceUSD        float64 `json:"price_usd"`
	Amount          float64 `json:"amount"`
	WalletAddress   string  `json:"wallet_address"`
	SourceProgram   string  `json:"source_program"`
}

// Validate rejects records missing any field the merger relies on.
func (e TradeEvent) Validate() error {
	switch {
	case e.ID == "":
		return malformed("trade event", "id")
	case e.SubjectKey == "":
		return malformed("trade event "+e.ID, "subject key")
	case e.TimestampMillis <= 0:
		return malformed("trade event "+e.ID, "timestamp")
	case e.Side != SideBuy && e.Side != SideSell:
		return malformed("trade event "+e.ID, "side")
	}
	return nil
}

// SortDirection for paginated history queries
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// HistoryQuery selects one page of the pull history for a subject.
type HistoryQuery struct {
	SubjectKey string
	Page       int
	PageSize   int
	SortBy     string
	SortDir    SortDirection
}

// HistoryPage is one page of the pull history.
type HistoryPage struct {
	Items      []TradeEvent
	TotalCount int
}
