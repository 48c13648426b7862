package app

import (
	"context"
	"log/slog"
	"strings"

	"copytrade_go/internal/desk"
	"copytrade_go/internal/domain"
	"copytrade_go/internal/engine"
	"copytrade_go/internal/infra"
	"copytrade_go/internal/infra/rest"
	"copytrade_go/internal/infra/storage"
	"copytrade_go/internal/infra/stream"
	"copytrade_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Client  *rest.Client
	Stream  *stream.Subscriber
	Desk    *desk.Desk
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, installs the logger, opens storage and builds
// the desk with its REST and stream collaborators.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping copy-trading desk", slog.String("master", cfg.Account.MasterID))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	// 4. Collaborators
	b.Client = rest.NewClient(cfg)
	b.Stream = stream.NewSubscriber(cfg)

	// 5. Desk
	b.Desk = desk.New(desk.Collaborators{
		Subscriber:      b.Stream,
		History:         b.Client,
		Balances:        b.Client,
		Connections:     b.Client,
		Membership:      b.Client,
		Trades:          b.Client,
		Preferences:     b.Client,
		PreferenceStore: b.Storage,
		Prices:          b.Client,
	}, DeskOptions(cfg))

	if err := b.Desk.Preferences().Load(); err != nil {
		slog.Warn("Failed to load favorites", slog.Any("error", err))
	}

	return nil
}

// DeskOptions maps the config sections onto desk options.
func DeskOptions(cfg *infra.Config) desk.Options {
	return desk.Options{
		MasterID: cfg.Account.MasterID,
		Feed: engine.FeedOptions{
			BufferCapacity: cfg.Feed.BufferCapacity,
			PageSize:       cfg.Feed.PageSize,
			SortBy:         cfg.Feed.SortBy,
			SortDir:        domain.SortDirection(strings.ToLower(cfg.Feed.SortDir)),
			PollInterval:   cfg.PollInterval(),
			ReconnectBase:  cfg.ReconnectBase(),
			ReconnectMax:   cfg.ReconnectMax(),
			OnConnectivity: func(subjectKey string, connected bool) {
				if connected {
					slog.Info("Trade stream connected", slog.String("subject", subjectKey))
				} else {
					slog.Warn("Trade stream disconnected", slog.String("subject", subjectKey))
				}
			},
		},
		Balance: service.BalanceOptions{
			MaxConcurrent: cfg.Balance.MaxConcurrent,
			FetchTimeout:  cfg.BalanceFetchTimeout(),
		},
		BalanceInterval:    cfg.BalanceInterval(),
		MembershipInterval: cfg.MembershipInterval(),
		PriceInterval:      cfg.PriceInterval(),
	}
}

// Start pulls the initial membership, points the feed at the last subject
// and runs the periodic refreshes until ctx is done.
func (b *Bootstrap) Start(ctx context.Context) {
	if err := b.Desk.RefreshMembership(ctx); err != nil {
		slog.Warn("Initial membership refresh failed", slog.Any("error", err))
	} else {
		b.Desk.RefreshConnectedBalances(ctx)
	}

	if prices := b.Desk.Prices(); prices != nil {
		if err := prices.Refresh(ctx); err != nil {
			slog.Warn("Initial SOL price refresh failed", slog.Any("error", err))
		}
	}

	if subject := b.InitialSubject(); subject != "" {
		b.Desk.Feed().SetSubject(ctx, subject)
		slog.Info("Feed subject restored", slog.String("subject", subject))
	}

	go b.Desk.Run(ctx)
}

// InitialSubject returns the last persisted subject, falling back to the
// configured one.
func (b *Bootstrap) InitialSubject() string {
	v, ok, err := b.Storage.LoadConfig(domain.ConfigKeyLastSubject)
	if err != nil {
		slog.Warn("Failed to load last subject", slog.Any("error", err))
	}
	if ok && v != "" {
		return v
	}
	return b.Config.Feed.Subject
}

// SelectSubject points the feed at subjectKey and remembers it for the next start.
func (b *Bootstrap) SelectSubject(ctx context.Context, subjectKey string) error {
	b.Desk.Feed().SetSubject(ctx, subjectKey)
	return b.Storage.SaveConfig(domain.ConfigKeyLastSubject, subjectKey)
}

// Shutdown stops the desk, drops stream connections and closes the database.
func (b *Bootstrap) Shutdown() {
	if b.Desk != nil {
		b.Desk.Close()
	}
	if b.Stream != nil {
		b.Stream.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close database", slog.Any("error", err))
		}
	}
	snap := infra.GlobalMetrics.Snapshot()
	slog.Info("Shutdown complete",
		slog.Uint64("events_ingested", snap.EventsIngested),
		slog.Uint64("fetch_errors", snap.FetchErrors),
		slog.Uint64("transitions_applied", snap.TransitionsApplied))
}
