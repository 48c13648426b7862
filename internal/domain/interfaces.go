package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// TradeSubscriber is the push subscription collaborator. Delivery is at least once.
// The returned channel is closed when the subscription drops or is unsubscribed.
type TradeSubscriber interface {
	Subscribe(ctx context.Context, subjectKey string) (<-chan TradeEvent, error)
	Unsubscribe(subjectKey string) error
}

// HistoryFetcher is the paginated pull history collaborator
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error)
}

// BalanceFetcher fetches the SOL balance of one account
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (BalanceQuote, error)
}

// ConnectionRemote performs lifecycle transitions on the remote system.
type ConnectionRemote interface {
	Connect(ctx context.Context, memberID string) error
	Pause(ctx context.Context, memberID string) error
	Disconnect(ctx context.Context, memberID string) error
	Reconnect(ctx context.Context, memberID string) error
}

// MembershipFetcher pulls the master's connections and groups.
type MembershipFetcher interface {
	FetchMembership(ctx context.Context, masterID string) ([]Connection, []Group, error)
}

// TradeSubmitter submits a trade for the targeted members
type TradeSubmitter interface {
	SubmitTrade(ctx context.Context, payload TradePayload) (TradeResult, error)
}

// PreferenceRemote stores low-risk preference toggles remotely
type PreferenceRemote interface {
	SetFavorite(ctx context.Context, tokenAddress string, favorite bool) error
}

// PriceFetcher fetches the current SOL/USD price
type PriceFetcher interface {
	FetchSolPrice(ctx context.Context) (decimal.Decimal, error)
}
