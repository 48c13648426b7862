package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/selection"
)

// Dataset names a cached dataset that can go stale.
type Dataset string

const (
	Connections Dataset = "connections"
	Groups      Dataset = "groups"
	TokenAmount Dataset = "tokenAmount"
	TradeAmount Dataset = "tradeAmount"
	WalletInfo  Dataset = "walletInfo"
	SolPrice    Dataset = "solPrice"
	TokenInfo   Dataset = "tokenInfo"
)

// TradeDatasets are invalidated by a submitted trade.
var TradeDatasets = []Dataset{Connections, Groups, TokenAmount, TradeAmount, WalletInfo, SolPrice, TokenInfo}

// Refetcher reloads one dataset.
type Refetcher func(ctx context.Context) error

// SelectionClearer empties the selection a trade consumed, unless it has
// changed since.
type SelectionClearer interface {
	ClearIfUnchanged(prev selection.Selection) bool
}

// BalanceRefresher refreshes one account balance.
type BalanceRefresher interface {
	RefreshOne(ctx context.Context, address string) error
}

// AddressResolver maps a member id to its account address.
type AddressResolver interface {
	AddressOf(memberID string) (string, bool)
}

type entry struct {
	stale      bool
	pending    bool
	generation uint64
}

// Cascade tracks the StaleSet and runs at most one refetch per dataset at a time.
// Marking a dataset stale while its refetch is running makes that refetch run
// once more after it finishes instead of starting a second one.
type Cascade struct {
	selection SelectionClearer
	balances  BalanceRefresher
	directory AddressResolver
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	entries    map[Dataset]*entry
	refetchers map[Dataset]Refetcher

	wg sync.WaitGroup
}

// New creates a Cascade. Any collaborator may be nil.
func New(selection SelectionClearer, balances BalanceRefresher, directory AddressResolver) *Cascade {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cascade{
		selection:  selection,
		balances:   balances,
		directory:  directory,
		logger:     slog.Default().With("module", "invalidation"),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[Dataset]*entry),
		refetchers: make(map[Dataset]Refetcher),
	}
}

// Register sets the refetcher for a dataset. Datasets without one are still
// tracked as stale.
func (c *Cascade) Register(ds Dataset, fn Refetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refetchers[ds] = fn
}

// RegisterShared sets one refetcher for several datasets. They share one
// stale flag and one refetch, so marking all of them stale runs fn once.
func (c *Cascade) RegisterShared(fn Refetcher, datasets ...Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shared *entry
	for _, ds := range datasets {
		if e, ok := c.entries[ds]; ok && shared == nil {
			shared = e
		}
	}
	if shared == nil {
		shared = &entry{}
	}
	for _, ds := range datasets {
		c.entries[ds] = shared
		c.refetchers[ds] = fn
	}
}

// MarkStale marks datasets stale and schedules their refetch.
func (c *Cascade) MarkStale(datasets ...Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ds := range datasets {
		e := c.entryLocked(ds)
		e.stale = true
		e.generation++
		if e.pending {
			continue
		}
		if _, ok := c.refetchers[ds]; !ok {
			continue
		}
		e.pending = true
		c.wg.Add(1)
		go c.run(ds)
	}
}

// OnTradeSubmitted invalidates everything a trade can change and clears the
// selection the trade consumed. A selection changed while the trade was in
// flight is kept.
func (c *Cascade) OnTradeSubmitted(consumed selection.Selection) {
	c.MarkStale(TradeDatasets...)
	if c.selection != nil {
		c.selection.ClearIfUnchanged(consumed)
	}
}

// OnConnectionStatusChanged invalidates the connection list and refreshes the
// member's balance.
func (c *Cascade) OnConnectionStatusChanged(ctx context.Context, memberID string) error {
	c.MarkStale(Connections)

	if c.balances == nil || c.directory == nil {
		return nil
	}
	addr, ok := c.directory.AddressOf(memberID)
	if !ok {
		return fmt.Errorf("refresh balance for %s: %w", memberID, domain.ErrUnknownMember)
	}
	return c.balances.RefreshOne(ctx, addr)
}

// IsStale reports whether ds is stale.
func (c *Cascade) IsStale(ds Dataset) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ds]
	return ok && e.stale
}

// Pending reports whether a refetch for ds is running.
func (c *Cascade) Pending(ds Dataset) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ds]
	return ok && e.pending
}

// Stale returns the stale dataset names, sorted.
func (c *Cascade) Stale() []Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Dataset
	for ds, e := range c.entries {
		if e.stale {
			out = append(out, ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Wait blocks until no refetch is running.
func (c *Cascade) Wait() {
	c.wg.Wait()
}

// Close cancels running refetches and waits for them.
func (c *Cascade) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cascade) entryLocked(ds Dataset) *entry {
	e, ok := c.entries[ds]
	if !ok {
		e = &entry{}
		c.entries[ds] = e
	}
	return e
}

func (c *Cascade) run(ds Dataset) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		e := c.entries[ds]
		gen := e.generation
		fn := c.refetchers[ds]
		c.mu.Unlock()

		err := fn(c.ctx)

		c.mu.Lock()
		if e.generation != gen && c.ctx.Err() == nil {
			c.mu.Unlock()
			c.logger.Debug("Dataset changed during refetch, running again", slog.String("dataset", string(ds)))
			continue
		}
		e.pending = false
		if err == nil && e.generation == gen {
			e.stale = false
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("Refetch failed", slog.String("dataset", string(ds)), slog.Any("error", err))
		}
		return
	}
}
