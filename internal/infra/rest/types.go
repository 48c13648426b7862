package rest

import (
	"github.com/shopspring/decimal"

	"copytrade_go/internal/infra"
)

const (
	pathTrades      = "/api/trades/"
	pathWallets     = "/api/wallets/"
	pathConnections = "/api/copy-trading/connections/"
	pathMasters     = "/api/copy-trading/masters/"
	pathSubmitTrade = "/api/copy-trading/trades"
	pathTokens      = "/api/tokens/"
	pathSolPrice    = "/api/prices/sol"
)

// historyResponse Structure
type historyResponse struct {
	Items      []infra.TradeRecord `json:"items"`
	TotalCount int                 `json:"totalCount"`
}

type balanceResponse struct {
	SolBalance    float64 `json:"solBalance"`
	SolBalanceUSD float64 `json:"solBalanceUsd"`
}

type priceResponse struct {
	PriceUSD decimal.Decimal `json:"priceUsd"`
}

// membershipResponse Structure
type membershipResponse struct {
	Connections []connectionRecord `json:"connections"`
	Groups      []groupRecord      `json:"groups"`
}

type connectionRecord struct {
	MemberID       string   `json:"memberId"`
	MemberAddress  string   `json:"memberAddress"`
	Status         string   `json:"status"`
	JoinedGroupIDs []string `json:"joinedGroupIds"`
}

type groupRecord struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// submitTradeRequest - Internal Struct for JSON Marshaling
type submitTradeRequest struct {
	ClientOrderID string          `json:"clientOrderId"`
	Side          string          `json:"side"` // buy, sell
	Token         string          `json:"token"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	MemberIDs     []string        `json:"memberIds"`
}

type submitTradeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// errorResponse is the body the API returns alongside 4xx statuses.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
