package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"copytrade_go/internal/domain"
)

// PriceService holds the latest SOL/USD price used to value balances and trades.
type PriceService struct {
	fetcher  domain.PriceFetcher
	onUpdate func(decimal.Decimal)
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.RWMutex
	price     decimal.Decimal
	updatedAt time.Time
}

// NewPriceService creates a new PriceService instance. onUpdate, when set,
// is called after every refresh that changes the price.
func NewPriceService(fetcher domain.PriceFetcher, onUpdate func(decimal.Decimal)) *PriceService {
	return &PriceService{
		fetcher:  fetcher,
		onUpdate: onUpdate,
		now:      time.Now,
		logger:   slog.Default().With("module", "price_service"),
		price:    decimal.Zero,
	}
}

// Refresh fetches the current price. A failed fetch keeps the previous price.
func (s *PriceService) Refresh(ctx context.Context) error {
	price, err := s.fetcher.FetchSolPrice(ctx)
	if err != nil {
		return domain.NewTransientFetchError("fetch_sol_price", "", err)
	}
	if !price.IsPositive() {
		return domain.NewTransientFetchError("fetch_sol_price", "", domain.ErrMalformedRecord)
	}

	s.mu.Lock()
	old := s.price
	s.price = price
	s.updatedAt = s.now()
	s.mu.Unlock()

	if !old.Equal(price) {
		s.logger.Debug("SOL price updated", "price", price.String(), "old_price", old.String())
		if s.onUpdate != nil {
			s.onUpdate(price)
		}
	}
	return nil
}

// Price returns the latest price and when it was fetched. The zero time
// means no fetch has succeeded yet.
func (s *PriceService) Price() (decimal.Decimal, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, s.updatedAt
}

// ToUSD values a SOL amount at the latest price; zero until a price is known.
func (s *PriceService) ToUSD(sol decimal.Decimal) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sol.Mul(s.price)
}
