package domain

import "github.com/shopspring/decimal"

// TradePayload is sent to the trade submission collaborator on behalf of
// every selected member.
type TradePayload struct {
	ClientOrderID string          `json:"client_order_id"`
	Side          Side            `json:"side"`
	TokenAddress  string          `json:"token"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	MemberIDs     []string        `json:"member_ids"`
}

// Validate checks the payload before it leaves the process.
func (p TradePayload) Validate() error {
	switch {
	case p.Side != SideBuy && p.Side != SideSell:
		return malformed("trade payload", "side")
	case p.TokenAddress == "":
		return malformed("trade payload", "token")
	case !p.Quantity.IsPositive():
		return malformed("trade payload", "quantity")
	case p.Price.IsNegative():
		return malformed("trade payload", "price")
	case len(p.MemberIDs) == 0:
		return ErrNoTargets
	}
	return nil
}

// TradeResult is the remote acknowledgement of a submitted trade.
type TradeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
