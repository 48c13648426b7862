package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

// BalanceOptions configures a BalanceService.
type BalanceOptions struct {
	// MaxConcurrent bounds in-flight fetches per batch. Zero means 8.
	MaxConcurrent int
	// FetchTimeout bounds a single fetch. Zero means no extra bound.
	FetchTimeout time.Duration
}

// BatchResult summarizes a finished RefreshAll.
type BatchResult struct {
	Succeeded []string
	Failed    map[string]error
}

// Batch tracks one RefreshAll fan-out. Entries become visible in the service
// as each fetch completes; Done closes once all of them have.
type Batch struct {
	done chan struct{}

	mu     sync.Mutex
	result BatchResult
}

// Done is closed when every fetch in the batch has finished.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch completes and returns its result.
func (b *Batch) Wait() BatchResult {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	sort.Strings(b.result.Succeeded)
	return b.result
}

func (b *Batch) record(address string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.result.Failed[address] = err
		return
	}
	b.result.Succeeded = append(b.result.Succeeded, address)
}

// BalanceService holds the BalanceMap and refreshes it from a BalanceFetcher.
type BalanceService struct {
	fetcher domain.BalanceFetcher
	opts    BalanceOptions
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]domain.BalanceEntry
}

// NewBalanceService creates a new BalanceService instance
func NewBalanceService(fetcher domain.BalanceFetcher, opts BalanceOptions) *BalanceService {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	return &BalanceService{
		fetcher: fetcher,
		opts:    opts,
		now:     time.Now,
		logger:  slog.Default().With("module", "balance"),
		entries: make(map[string]domain.BalanceEntry),
	}
}

// RefreshOne fetches one balance and replaces its entry. On failure the
// previous entry is kept and a *TransientFetchError is returned.
func (s *BalanceService) RefreshOne(ctx context.Context, address string) error {
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}

	quote, err := s.fetcher.FetchBalance(ctx, address)
	if err != nil {
		infra.GlobalMetrics.RecordFetchError()
		return domain.NewTransientFetchError("fetch_balance", address, err)
	}

	entry := domain.NewBalanceEntry(quote, s.now())

	s.mu.Lock()
	s.entries[address] = entry
	s.mu.Unlock()

	infra.GlobalMetrics.RecordBalanceRefresh()
	return nil
}

// RefreshAll fetches every address concurrently. A failed address does not
// stop the others. Duplicate addresses are fetched once.
func (s *BalanceService) RefreshAll(ctx context.Context, addresses []string) *Batch {
	batch := &Batch{
		done:   make(chan struct{}),
		result: BatchResult{Failed: make(map[string]error)},
	}

	seen := make(map[string]struct{}, len(addresses))
	unique := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		unique = append(unique, addr)
	}

	go func() {
		defer close(batch.done)

		var g errgroup.Group
		g.SetLimit(s.opts.MaxConcurrent)

		for _, addr := range unique {
			g.Go(func() error {
				err := s.RefreshOne(ctx, addr)
				if err != nil {
					s.logger.Warn("Balance refresh failed", slog.String("address", addr), slog.Any("error", err))
				}
				batch.record(addr, err)
				return nil
			})
		}
		_ = g.Wait()

		s.logger.Debug("Balance batch finished",
			slog.Int("addresses", len(unique)),
			slog.Int("failed", len(batch.result.Failed)))
	}()

	return batch
}

// ForceRefreshAll clears the whole map, then behaves as RefreshAll.
func (s *BalanceService) ForceRefreshAll(ctx context.Context, addresses []string) *Batch {
	s.mu.Lock()
	s.entries = make(map[string]domain.BalanceEntry)
	s.mu.Unlock()

	return s.RefreshAll(ctx, addresses)
}

// Get returns the entry for address
func (s *BalanceService) Get(address string) (domain.BalanceEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[address]
	return e, ok
}

// Snapshot returns a copy of the whole map.
func (s *BalanceService) Snapshot() map[string]domain.BalanceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.BalanceEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
