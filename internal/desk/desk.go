package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/engine"
	"copytrade_go/internal/invalidation"
	"copytrade_go/internal/lifecycle"
	"copytrade_go/internal/selection"
	"copytrade_go/internal/service"
)

// Collaborators are the external services the desk drives.
type Collaborators struct {
	Subscriber      domain.TradeSubscriber
	History         domain.HistoryFetcher
	Balances        domain.BalanceFetcher
	Connections     domain.ConnectionRemote
	Membership      domain.MembershipFetcher
	Trades          domain.TradeSubmitter
	Preferences     domain.PreferenceRemote
	PreferenceStore service.PreferenceStore
	// Prices is optional; without it the SOL price stays zero.
	Prices domain.PriceFetcher
}

// Options configures a Desk.
type Options struct {
	MasterID string
	Feed     engine.FeedOptions
	Balance  service.BalanceOptions

	// BalanceInterval drives Run's periodic refresh of connected members'
	// balances. Zero disables it.
	BalanceInterval time.Duration
	// MembershipInterval drives Run's periodic membership refresh. Zero disables it.
	MembershipInterval time.Duration
	// PriceInterval drives Run's periodic SOL price refresh. Zero disables it.
	PriceInterval time.Duration
}

// TradeRequest is a trade to copy onto every selected member.
type TradeRequest struct {
	Side         domain.Side
	TokenAddress string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
}

// Desk wires the feed, selection, lifecycle, balances, preferences and
// invalidation cascade of one master account together.
type Desk struct {
	opts       Options
	trades     domain.TradeSubmitter
	membership domain.MembershipFetcher
	logger     *slog.Logger

	feed        *engine.EventFeed
	selection   *selection.Synchronizer
	lifecycle   *lifecycle.Lifecycle
	balances    *service.BalanceService
	preferences *service.PreferenceService
	prices      *service.PriceService
	cascade     *invalidation.Cascade

	newOrderID func() string
}

// New builds a desk. Call SetMembership or RefreshMembership before using
// selection or lifecycle operations.
func New(c Collaborators, opts Options) *Desk {
	d := &Desk{
		opts:       opts,
		trades:     c.Trades,
		membership: c.Membership,
		logger:     slog.Default().With("module", "desk"),
		newOrderID: uuid.NewString,
	}

	d.feed = engine.NewEventFeed(c.Subscriber, c.History, opts.Feed)
	d.selection = selection.NewSynchronizer()
	d.balances = service.NewBalanceService(c.Balances, opts.Balance)
	d.preferences = service.NewPreferenceService(c.Preferences, c.PreferenceStore)
	d.lifecycle = lifecycle.New(c.Connections, d.balances, lifecycle.Options{
		OnTransition: d.onTransition,
	})
	d.cascade = invalidation.New(d.selection, d.balances, d.lifecycle)

	if d.membership != nil {
		// One fetch returns both.
		d.cascade.RegisterShared(d.RefreshMembership, invalidation.Connections, invalidation.Groups)
	}
	d.cascade.Register(invalidation.WalletInfo, func(ctx context.Context) error {
		res := d.RefreshConnectedBalances(ctx).Wait()
		if len(res.Failed) > 0 {
			return fmt.Errorf("wallet info: %d of %d balances failed", len(res.Failed), len(res.Failed)+len(res.Succeeded))
		}
		return nil
	})
	d.cascade.Register(invalidation.TradeAmount, d.feed.Refresh)
	if c.Prices != nil {
		d.prices = service.NewPriceService(c.Prices, nil)
		d.cascade.Register(invalidation.SolPrice, d.prices.Refresh)
	}

	return d
}

// onTransition keeps the selection graph in sync with lifecycle changes.
func (d *Desk) onTransition(_ context.Context, c domain.Connection) {
	d.selection.UpdateConnection(c)
}

// Feed returns the event feed.
func (d *Desk) Feed() *engine.EventFeed { return d.feed }

// Selection returns the selection synchronizer.
func (d *Desk) Selection() *selection.Synchronizer { return d.selection }

// Lifecycle returns the connection lifecycle.
func (d *Desk) Lifecycle() *lifecycle.Lifecycle { return d.lifecycle }

// Balances returns the balance service.
func (d *Desk) Balances() *service.BalanceService { return d.balances }

// Preferences returns the favorites service.
func (d *Desk) Preferences() *service.PreferenceService { return d.preferences }

// Prices returns the SOL price service, nil when no PriceFetcher was given.
func (d *Desk) Prices() *service.PriceService { return d.prices }

// Cascade returns the invalidation cascade.
func (d *Desk) Cascade() *invalidation.Cascade { return d.cascade }

// SetMembership mirrors remote connections and groups into the lifecycle and
// the selection. Members the remote no longer lists are dropped from both,
// except while a transition for them is in flight.
func (d *Desk) SetMembership(conns []domain.Connection, groups []domain.Group) {
	d.selection.UpdateMembership(d.lifecycle.Replace(conns), groups)
}

// RefreshMembership pulls the master's connections and groups.
func (d *Desk) RefreshMembership(ctx context.Context) error {
	if d.membership == nil {
		return nil
	}
	conns, groups, err := d.membership.FetchMembership(ctx, d.opts.MasterID)
	if err != nil {
		return domain.NewTransientFetchError("fetch_membership", d.opts.MasterID, err)
	}
	d.SetMembership(conns, groups)
	return nil
}

// Transition runs a lifecycle transition. On success the member's selection
// entry and the connections dataset are updated through the cascade, and the
// member's balance is refreshed.
func (d *Desk) Transition(ctx context.Context, t lifecycle.Transition, memberID string) error {
	if err := d.lifecycle.Apply(ctx, t, memberID); err != nil {
		return err
	}
	if t == lifecycle.Connect {
		// Connect already refreshed the balance.
		d.cascade.MarkStale(invalidation.Connections)
		return nil
	}
	if err := d.cascade.OnConnectionStatusChanged(ctx, memberID); err != nil {
		d.logger.Warn("Balance refresh after status change failed",
			slog.String("member", memberID), slog.Any("error", err))
	}
	return nil
}

// RefreshConnectedBalances refreshes the balance of every Connected member.
func (d *Desk) RefreshConnectedBalances(ctx context.Context) *service.Batch {
	var addrs []string
	for _, c := range d.lifecycle.Connections() {
		if c.Status == domain.StatusConnected {
			addrs = append(addrs, c.MemberAddress)
		}
	}
	return d.balances.RefreshAll(ctx, addrs)
}

// SubmitTrade copies req onto every selected connection. An empty selection
// fails with ErrNoTargets. On success every trade-dependent dataset is
// invalidated and the consumed selection cleared, unless it was changed while
// the trade was in flight; on failure nothing changes.
func (d *Desk) SubmitTrade(ctx context.Context, req TradeRequest) (domain.TradeResult, error) {
	sel := d.selection.Selection()
	if len(sel.ConnectionIDs) == 0 {
		return domain.TradeResult{}, domain.ErrNoTargets
	}

	payload := domain.TradePayload{
		ClientOrderID: d.newOrderID(),
		Side:          req.Side,
		TokenAddress:  req.TokenAddress,
		Quantity:      req.Quantity,
		Price:         req.Price,
		MemberIDs:     sel.ConnectionIDs,
	}
	if err := payload.Validate(); err != nil {
		return domain.TradeResult{}, err
	}

	res, err := d.trades.SubmitTrade(ctx, payload)
	if err != nil {
		var rej *domain.RemoteRejectionError
		if !errors.As(err, &rej) && !domain.IsRetriable(err) {
			err = &domain.RemoteRejectionError{Op: "submit_trade", Key: payload.ClientOrderID, Err: err}
		}
		d.logger.Warn("Trade submission failed",
			slog.String("order_id", payload.ClientOrderID), slog.Any("error", err))
		return res, err
	}
	if !res.Success {
		err := &domain.RemoteRejectionError{Op: "submit_trade", Key: payload.ClientOrderID, Reason: res.Message}
		d.logger.Warn("Trade rejected", slog.String("order_id", payload.ClientOrderID), slog.String("reason", res.Message))
		return res, err
	}

	d.logger.Info("Trade submitted",
		slog.String("order_id", payload.ClientOrderID),
		slog.String("side", string(payload.Side)),
		slog.String("token", payload.TokenAddress),
		slog.String("quantity", payload.Quantity.String()),
		slog.Int("targets", len(payload.MemberIDs)))

	d.cascade.OnTradeSubmitted(sel)
	return res, nil
}

// Run refreshes membership, balances and the SOL price on their intervals
// until ctx is done.
func (d *Desk) Run(ctx context.Context) {
	var membershipC, balanceC, priceC <-chan time.Time

	if d.opts.MembershipInterval > 0 {
		t := time.NewTicker(d.opts.MembershipInterval)
		defer t.Stop()
		membershipC = t.C
	}
	if d.opts.BalanceInterval > 0 {
		t := time.NewTicker(d.opts.BalanceInterval)
		defer t.Stop()
		balanceC = t.C
	}

	if d.prices != nil && d.opts.PriceInterval > 0 {
		t := time.NewTicker(d.opts.PriceInterval)
		defer t.Stop()
		priceC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-membershipC:
			if err := d.RefreshMembership(ctx); err != nil {
				d.logger.Warn("Membership refresh failed", slog.Any("error", err))
			}
		case <-balanceC:
			d.RefreshConnectedBalances(ctx).Wait()
		case <-priceC:
			if err := d.prices.Refresh(ctx); err != nil {
				d.logger.Warn("SOL price refresh failed", slog.Any("error", err))
			}
		}
	}
}

// Close stops the feed and waits for background refetches.
func (d *Desk) Close() {
	d.feed.Close()
	d.cascade.Close()
	d.preferences.Wait()
}
