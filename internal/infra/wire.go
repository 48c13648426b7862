package infra

import (
	"fmt"

	"copytrade_go/internal/domain"
)

// TradeRecord is the wire shape of a trade shared by the REST history
// endpoint and the push stream.
type TradeRecord struct {
	TxHash        string  `json:"txHash"`
	Token         string  `json:"token"`
	Timestamp     int64   `json:"timestamp"`
	Side          string  `json:"side"`
	PriceUSD      float64 `json:"priceUsd"`
	Amount        float64 `json:"amount"`
	WalletAddress string  `json:"walletAddress"`
	Program       string  `json:"program"`
}

// ToEvent converts the record into a validated TradeEvent. subjectKey fills
// in the token when the record omits it.
func (r TradeRecord) ToEvent(subjectKey string) (domain.TradeEvent, error) {
	side, ok := domain.ParseSide(r.Side)
	if !ok {
		return domain.TradeEvent{}, fmt.Errorf("%w: trade %s has side %q", domain.ErrMalformedRecord, r.TxHash, r.Side)
	}

	key := r.Token
	if key == "" {
		key = subjectKey
	}

	ev := domain.TradeEvent{
		ID:              r.TxHash,
		SubjectKey:      key,
		TimestampMillis: r.Timestamp,
		Side:            side,
		PriceUSD:        r.PriceUSD,
		Amount:          r.Amount,
		WalletAddress:   r.WalletAddress,
		SourceProgram:   r.Program,
	}
	if err := ev.Validate(); err != nil {
		return domain.TradeEvent{}, err
	}
	return ev, nil
}
