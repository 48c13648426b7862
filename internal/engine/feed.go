package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/event"
	"copytrade_go/internal/infra"
)

// FeedOptions configures an EventFeed. Zero values fall back to defaults.
type FeedOptions struct {
	BufferCapacity int
	PageSize       int
	SortBy         string
	SortDir        domain.SortDirection

	// PollInterval drives periodic history refetches. Zero disables polling;
	// the feed still fetches once on every subject change.
	PollInterval time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// OnChange receives the full merged sequence after every accepted input change.
	OnChange func(subjectKey string, merged []domain.TradeEvent)
	// OnConnectivity reports push stream drops and recoveries.
	OnConnectivity func(subjectKey string, connected bool)
}

func (o FeedOptions) withDefaults() FeedOptions {
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = event.DefaultCapacity
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.SortBy == "" {
		o.SortBy = "timestamp"
	}
	if o.SortDir == "" {
		o.SortDir = domain.SortDesc
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = infra.DefaultBackoffBase
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = infra.DefaultBackoffMax
	}
	return o
}

// EventFeed owns the push buffer and pull snapshot of the current subject and
// exposes their merge. It feeds the buffer from the push subscription and the
// snapshot from periodic history fetches; both streams are dropped and the
// state cleared whenever the subject changes.
type EventFeed struct {
	subscriber domain.TradeSubscriber
	history    domain.HistoryFetcher
	opts       FeedOptions
	logger     *slog.Logger

	switchMu sync.Mutex // serializes SetSubject and Close

	mu         sync.RWMutex
	subjectKey string
	generation uint64
	subCtx     context.Context
	cancel     context.CancelFunc
	buffer     *event.Buffer
	snapshot   []domain.TradeEvent
	connected  bool
	version    uint64

	notifyMu     sync.Mutex
	lastNotified uint64

	wg sync.WaitGroup
}

// NewEventFeed creates a feed with no subject. Call SetSubject to start it.
func NewEventFeed(subscriber domain.TradeSubscriber, history domain.HistoryFetcher, opts FeedOptions) *EventFeed {
	opts = opts.withDefaults()
	return &EventFeed{
		subscriber: subscriber,
		history:    history,
		opts:       opts,
		logger:     slog.Default().With("module", "event_feed"),
		buffer:     event.NewBuffer(opts.BufferCapacity),
	}
}

// SetSubject hands the feed over to subjectKey. The previous subject is
// unsubscribed, its in-flight history fetch cancelled and both buffer and
// snapshot cleared before any data for the new subject is accepted.
// An empty key stops the feed. ctx bounds the lifetime of the new subscription.
func (f *EventFeed) SetSubject(ctx context.Context, subjectKey string) {
	f.switchMu.Lock()
	defer f.switchMu.Unlock()

	f.mu.Lock()
	if subjectKey == f.subjectKey {
		f.mu.Unlock()
		return
	}
	oldKey := f.subjectKey
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.generation++
	gen := f.generation
	f.subjectKey = subjectKey
	f.buffer.Reset()
	f.snapshot = nil
	f.connected = false
	f.subCtx = nil
	var subCtx context.Context
	if subjectKey != "" {
		subCtx, f.cancel = context.WithCancel(ctx)
		f.subCtx = subCtx
	}
	f.version++
	version := f.version
	f.mu.Unlock()

	if oldKey != "" {
		if err := f.subscriber.Unsubscribe(oldKey); err != nil {
			f.logger.Warn("Unsubscribe failed", slog.String("subject", oldKey), slog.Any("error", err))
		}
	}
	f.logger.Info("Subject changed", slog.String("from", oldKey), slog.String("to", subjectKey))
	f.notify(version, subjectKey, []domain.TradeEvent{})

	if subjectKey == "" {
		return
	}

	stream, err := f.subscriber.Subscribe(subCtx, subjectKey)
	if err != nil {
		f.logger.Warn("Subscribe failed, retrying in background",
			slog.String("subject", subjectKey), slog.Any("error", err))
		stream = nil
		if f.opts.OnConnectivity != nil {
			f.opts.OnConnectivity(subjectKey, false)
		}
		infra.GlobalMetrics.SetFeedDegraded(true)
	} else {
		f.setConnected(gen, true)
	}

	f.wg.Add(2)
	go f.streamLoop(subCtx, gen, subjectKey, stream)
	go f.pollLoop(subCtx)
}

// Subject returns the current subject key.
func (f *EventFeed) Subject() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.subjectKey
}

// Connected reports whether the push stream for the current subject is up.
func (f *EventFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Merged recomputes the merged sequence from the current buffer and snapshot.
func (f *EventFeed) Merged() []domain.TradeEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Merge(f.buffer.Items(), f.snapshot)
}

// Refresh fetches the first history page for the current subject and replaces
// the snapshot with it. A failed fetch leaves the previous snapshot in place and
// returns a TransientFetchError. A result that arrives after the subject has
// changed is discarded and Refresh returns nil.
func (f *EventFeed) Refresh(ctx context.Context) error {
	f.mu.RLock()
	key, gen, subCtx := f.subjectKey, f.generation, f.subCtx
	f.mu.RUnlock()

	if key == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(subCtx, cancel)
	defer stop()

	page, err := f.history.FetchHistory(ctx, domain.HistoryQuery{
		SubjectKey: key,
		Page:       1,
		PageSize:   f.opts.PageSize,
		SortBy:     f.opts.SortBy,
		SortDir:    f.opts.SortDir,
	})
	if err != nil {
		if f.isStale(gen) {
			f.logger.Debug("History fetch abandoned after subject change", slog.String("subject", key))
			return nil
		}
		infra.GlobalMetrics.RecordFetchError()
		return domain.NewTransientFetchError("fetch_history", key, err)
	}

	items := make([]domain.TradeEvent, 0, len(page.Items))
	for _, ev := range page.Items {
		if err := ev.Validate(); err != nil {
			f.logger.Warn("Dropping malformed history record", slog.Any("error", err))
			infra.GlobalMetrics.RecordEventDiscarded()
			continue
		}
		if ev.SubjectKey != key {
			infra.GlobalMetrics.RecordEventDiscarded()
			continue
		}
		items = append(items, ev)
	}

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		f.logger.Debug("Discarding stale history result",
			slog.String("subject", key), slog.Any("reason", domain.ErrStaleSubject))
		infra.GlobalMetrics.RecordEventDiscarded()
		return nil
	}
	f.snapshot = items
	merged, version := f.mergeLocked()
	f.mu.Unlock()

	f.notify(version, key, merged)
	return nil
}

// Close stops the current subscription and waits for background loops to exit.
func (f *EventFeed) Close() {
	f.SetSubject(context.Background(), "")
	f.wg.Wait()
}

// ingest accepts one push event for generation gen.
func (f *EventFeed) ingest(gen uint64, ev domain.TradeEvent) {
	if err := ev.Validate(); err != nil {
		f.logger.Warn("Dropping malformed push event", slog.Any("error", err))
		infra.GlobalMetrics.RecordEventDiscarded()
		return
	}

	f.mu.Lock()
	if gen != f.generation || ev.SubjectKey != f.subjectKey {
		f.mu.Unlock()
		infra.GlobalMetrics.RecordEventDiscarded()
		return
	}
	f.buffer.Push(ev)
	merged, version := f.mergeLocked()
	key := f.subjectKey
	f.mu.Unlock()

	infra.GlobalMetrics.RecordEventIngested()
	f.notify(version, key, merged)
}

// mergeLocked must be called with mu held for writing.
func (f *EventFeed) mergeLocked() ([]domain.TradeEvent, uint64) {
	start := time.Now()
	merged := Merge(f.buffer.Items(), f.snapshot)
	infra.GlobalMetrics.RecordMerge(time.Since(start).Nanoseconds())
	f.version++
	return merged, f.version
}

// notify delivers merged to OnChange unless a newer version was already delivered.
func (f *EventFeed) notify(version uint64, key string, merged []domain.TradeEvent) {
	if f.opts.OnChange == nil {
		return
	}
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	if version <= f.lastNotified {
		return
	}
	f.lastNotified = version
	f.opts.OnChange(key, merged)
}

func (f *EventFeed) isStale(gen uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return gen != f.generation
}

func (f *EventFeed) setConnected(gen uint64, connected bool) {
	f.mu.Lock()
	if gen != f.generation || f.connected == connected {
		f.mu.Unlock()
		return
	}
	f.connected = connected
	key := f.subjectKey
	f.mu.Unlock()

	infra.GlobalMetrics.SetFeedDegraded(!connected)
	if f.opts.OnConnectivity != nil {
		f.opts.OnConnectivity(key, connected)
	}
}

// streamLoop drains the push stream and resubscribes with backoff after a drop.
// The buffer survives drops; only a subject change clears it.
func (f *EventFeed) streamLoop(ctx context.Context, gen uint64, key string, stream <-chan domain.TradeEvent) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Stream loop panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		if stream == nil {
			delay := infra.BackoffDelay(retryCount, f.opts.ReconnectBase, f.opts.ReconnectMax)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			retryCount++

			s, err := f.subscriber.Subscribe(ctx, key)
			if err != nil {
				f.logger.Warn("Resubscribe failed",
					slog.String("subject", key), slog.Int("retry", retryCount), slog.Any("error", err))
				continue
			}
			stream = s
			retryCount = 0
			f.setConnected(gen, true)
		}

		f.drain(ctx, gen, stream)
		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("Push stream dropped", slog.String("subject", key))
		stream = nil
		f.setConnected(gen, false)
	}
}

func (f *EventFeed) drain(ctx context.Context, gen uint64, stream <-chan domain.TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			f.ingest(gen, ev)
		}
	}
}

func (f *EventFeed) pollLoop(ctx context.Context) {
	defer f.wg.Done()

	f.refreshLogged(ctx)
	if f.opts.PollInterval <= 0 {
		return
	}

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshLogged(ctx)
		}
	}
}

func (f *EventFeed) refreshLogged(ctx context.Context) {
	if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
		f.logger.Warn("History refresh failed", slog.Any("error", err))
	}
}
