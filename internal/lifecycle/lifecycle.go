package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

// Transition names a lifecycle operation.
type Transition string

const (
	Connect    Transition = "connect"
	Pause      Transition = "pause"
	Disconnect Transition = "disconnect"
	Reconnect  Transition = "reconnect"
)

type rule struct {
	from []domain.ConnectionStatus
	to   domain.ConnectionStatus
}

var rules = map[Transition]rule{
	Connect: {
		from: []domain.ConnectionStatus{
			domain.StatusNotConnected, domain.StatusDisconnected, domain.StatusPaused, domain.StatusBlocked,
		},
		to: domain.StatusConnected,
	},
	Pause:      {from: []domain.ConnectionStatus{domain.StatusConnected}, to: domain.StatusPaused},
	Disconnect: {from: []domain.ConnectionStatus{domain.StatusConnected, domain.StatusPaused}, to: domain.StatusDisconnected},
	Reconnect:  {from: []domain.ConnectionStatus{domain.StatusDisconnected}, to: domain.StatusConnected},
}

// Allowed reports whether t may start from status.
func Allowed(t Transition, status domain.ConnectionStatus) bool {
	r, ok := rules[t]
	return ok && slices.Contains(r.from, status)
}

// BalanceRefresher refreshes one account balance after a successful connect.
type BalanceRefresher interface {
	RefreshOne(ctx context.Context, address string) error
}

// Options configures a Lifecycle.
type Options struct {
	// OnTransition is called with the new connection after every applied transition.
	OnTransition func(ctx context.Context, c domain.Connection)
}

type relation struct {
	conn     domain.Connection
	inFlight bool
}

// Lifecycle is the per-member connection state machine. Transitions are
// confirm-after-success: local state changes only after the remote call
// succeeds, and at most one transition per member is in flight.
type Lifecycle struct {
	remote   domain.ConnectionRemote
	balances BalanceRefresher
	opts     Options
	logger   *slog.Logger

	mu        sync.RWMutex
	relations map[string]*relation
}

// New creates a Lifecycle. balances may be nil.
func New(remote domain.ConnectionRemote, balances BalanceRefresher, opts Options) *Lifecycle {
	return &Lifecycle{
		remote:    remote,
		balances:  balances,
		opts:      opts,
		logger:    slog.Default().With("module", "lifecycle"),
		relations: make(map[string]*relation),
	}
}

// Replace mirrors the remote membership list. Members missing from conns are
// dropped unless a transition for them is in flight. It returns the mirrored
// connections sorted by member id.
func (l *Lifecycle) Replace(conns []domain.Connection) []domain.Connection {
	l.mu.Lock()
	next := make(map[string]*relation, len(conns))
	for _, c := range conns {
		if err := c.Validate(); err != nil {
			l.logger.Warn("Skipping malformed connection", slog.Any("error", err))
			continue
		}
		if r, ok := l.relations[c.MemberID]; ok && r.inFlight {
			next[c.MemberID] = r
			continue
		}
		next[c.MemberID] = &relation{conn: c.Clone()}
	}
	for id, r := range l.relations {
		if _, ok := next[id]; ok {
			continue
		}
		if r.inFlight {
			next[id] = r
			continue
		}
		l.logger.Info("Member removed remotely", slog.String("member", id))
	}
	l.relations = next
	l.mu.Unlock()

	return l.Connections()
}

// Status returns the member's current status.
func (l *Lifecycle) Status(memberID string) (domain.ConnectionStatus, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.relations[memberID]
	if !ok {
		return domain.StatusNotConnected, false
	}
	return r.conn.Status, true
}

// Connection returns a copy of the member's mirrored connection.
func (l *Lifecycle) Connection(memberID string) (domain.Connection, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.relations[memberID]
	if !ok {
		return domain.Connection{}, false
	}
	return r.conn.Clone(), true
}

// Connections returns copies of every tracked connection sorted by member id.
func (l *Lifecycle) Connections() []domain.Connection {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Connection, 0, len(l.relations))
	for _, r := range l.relations {
		out = append(out, r.conn.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Connection) int {
		switch {
		case a.MemberID < b.MemberID:
			return -1
		case a.MemberID > b.MemberID:
			return 1
		}
		return 0
	})
	return out
}

// InFlight reports whether a transition for the member awaits its remote call.
func (l *Lifecycle) InFlight(memberID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.relations[memberID]
	return ok && r.inFlight
}

// AddressOf resolves a member's account address.
func (l *Lifecycle) AddressOf(memberID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.relations[memberID]
	if !ok {
		return "", false
	}
	return r.conn.MemberAddress, true
}

// Connect moves a NotConnected, Disconnected, Paused or Blocked member to
// Connected and refreshes its balance.
func (l *Lifecycle) Connect(ctx context.Context, memberID string) error {
	return l.Apply(ctx, Connect, memberID)
}

// Pause moves a Connected member to Paused.
func (l *Lifecycle) Pause(ctx context.Context, memberID string) error {
	return l.Apply(ctx, Pause, memberID)
}

// Disconnect moves a Connected or Paused member to Disconnected.
func (l *Lifecycle) Disconnect(ctx context.Context, memberID string) error {
	return l.Apply(ctx, Disconnect, memberID)
}

// Reconnect moves a Disconnected member back to Connected.
func (l *Lifecycle) Reconnect(ctx context.Context, memberID string) error {
	return l.Apply(ctx, Reconnect, memberID)
}

// Apply runs transition t for memberID.
//
// It fails without a remote call with ErrUnknownMember, ErrTransitionInProgress
// or an *InvalidTransitionError. A failed remote call leaves the state unchanged
// and returns a *TransientFetchError or *RemoteRejectionError.
func (l *Lifecycle) Apply(ctx context.Context, t Transition, memberID string) error {
	r, ok := rules[t]
	if !ok {
		return fmt.Errorf("unknown transition %q", t)
	}

	l.mu.Lock()
	rel, ok := l.relations[memberID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s %s: %w", t, memberID, domain.ErrUnknownMember)
	}
	if rel.inFlight {
		l.mu.Unlock()
		return fmt.Errorf("%s %s: %w", t, memberID, domain.ErrTransitionInProgress)
	}
	from := rel.conn.Status
	if !slices.Contains(r.from, from) {
		l.mu.Unlock()
		return &domain.InvalidTransitionError{Transition: string(t), From: from}
	}
	rel.inFlight = true
	l.mu.Unlock()

	err := l.call(ctx, t, memberID)

	l.mu.Lock()
	rel.inFlight = false
	if err != nil {
		l.mu.Unlock()
		infra.GlobalMetrics.RecordTransition(false)
		err = classify(string(t), memberID, err)
		l.logger.Warn("Transition failed",
			slog.String("transition", string(t)),
			slog.String("member", memberID),
			slog.String("from", from.String()),
			slog.Any("error", err))
		return err
	}
	next := rel.conn.Clone()
	next.Status = r.to
	rel.conn = next
	l.mu.Unlock()

	infra.GlobalMetrics.RecordTransition(true)
	l.logger.Info("Transition applied",
		slog.String("transition", string(t)),
		slog.String("member", memberID),
		slog.String("from", from.String()),
		slog.String("to", r.to.String()))

	if l.opts.OnTransition != nil {
		l.opts.OnTransition(ctx, next.Clone())
	}

	if t == Connect && l.balances != nil {
		if err := l.balances.RefreshOne(ctx, next.MemberAddress); err != nil {
			l.logger.Warn("Balance refresh after connect failed",
				slog.String("member", memberID), slog.Any("error", err))
		}
	}
	return nil
}

func (l *Lifecycle) call(ctx context.Context, t Transition, memberID string) error {
	switch t {
	case Connect:
		return l.remote.Connect(ctx, memberID)
	case Pause:
		return l.remote.Pause(ctx, memberID)
	case Disconnect:
		return l.remote.Disconnect(ctx, memberID)
	case Reconnect:
		return l.remote.Reconnect(ctx, memberID)
	}
	return fmt.Errorf("unknown transition %q", t)
}

// classify keeps transient and rejection errors as they are and treats
// anything else from the remote as a rejection.
func classify(op, key string, err error) error {
	var tfe *domain.TransientFetchError
	if errors.As(err, &tfe) {
		return err
	}
	if errors.Is(err, domain.ErrRemoteRejection) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientFetchError(op, key, err)
	}
	return &domain.RemoteRejectionError{Op: op, Key: key, Err: err}
}
