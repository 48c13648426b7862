package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"copytrade_go/internal/domain"
)

// PreferenceStore persists the local favorites mirror.
type PreferenceStore interface {
	SetFavorite(tokenAddress string, favorite bool) error
	ListFavorites() ([]domain.TokenPreference, error)
}

// ResultKind tags the outcome of an optimistic toggle.
type ResultKind int

const (
	Applied ResultKind = iota
	RolledBack
)

func (k ResultKind) String() string {
	if k == Applied {
		return "Applied"
	}
	return "RolledBack"
}

// ToggleResult is delivered once the remote call for a toggle resolves.
// Reason is set only for RolledBack.
type ToggleResult struct {
	TokenAddress string
	Favorite     bool
	Kind         ResultKind
	Reason       error
}

// PreferenceService applies favorite toggles optimistically and rolls them
// back when the remote call fails. Only low-consequence, idempotent
// preferences go through here.
type PreferenceService struct {
	remote domain.PreferenceRemote
	store  PreferenceStore
	logger *slog.Logger

	mu        sync.Mutex
	favorites map[string]bool
	versions  map[string]uint64

	wg sync.WaitGroup
}

// NewPreferenceService creates a service. store may be nil.
func NewPreferenceService(remote domain.PreferenceRemote, store PreferenceStore) *PreferenceService {
	return &PreferenceService{
		remote:    remote,
		store:     store,
		logger:    slog.Default().With("module", "preference"),
		favorites: make(map[string]bool),
		versions:  make(map[string]uint64),
	}
}

// Load replaces the in-memory favorites with the persisted ones.
func (s *PreferenceService) Load() error {
	if s.store == nil {
		return nil
	}
	prefs, err := s.store.ListFavorites()
	if err != nil {
		return err
	}

	favorites := make(map[string]bool, len(prefs))
	for _, p := range prefs {
		if p.IsFavorite {
			favorites[p.TokenAddress] = true
		}
	}

	s.mu.Lock()
	s.favorites = favorites
	s.mu.Unlock()
	return nil
}

// IsFavorite reports the local (possibly optimistic) value.
func (s *PreferenceService) IsFavorite(tokenAddress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favorites[tokenAddress]
}

// Favorites returns the favorite token addresses, sorted.
func (s *PreferenceService) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.favorites))
	for token, fav := range s.favorites {
		if fav {
			out = append(out, token)
		}
	}
	sort.Strings(out)
	return out
}

// ToggleFavorite flips the local value. See SetFavorite.
func (s *PreferenceService) ToggleFavorite(ctx context.Context, tokenAddress string) <-chan ToggleResult {
	s.mu.Lock()
	next := !s.favorites[tokenAddress]
	s.mu.Unlock()
	return s.SetFavorite(ctx, tokenAddress, next)
}

// SetFavorite applies favorite locally right away and sends it to the remote
// in the background. The returned channel yields exactly one result. On
// remote failure the pre-toggle value is restored, unless a newer toggle for
// the same token has been applied since.
func (s *PreferenceService) SetFavorite(ctx context.Context, tokenAddress string, favorite bool) <-chan ToggleResult {
	s.mu.Lock()
	prev := s.favorites[tokenAddress]
	s.setLocked(tokenAddress, favorite)
	s.versions[tokenAddress]++
	version := s.versions[tokenAddress]
	s.persist(tokenAddress, favorite)
	s.mu.Unlock()

	out := make(chan ToggleResult, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.remote.SetFavorite(ctx, tokenAddress, favorite)
		if err == nil {
			out <- ToggleResult{TokenAddress: tokenAddress, Favorite: favorite, Kind: Applied}
			return
		}

		s.mu.Lock()
		restored := s.versions[tokenAddress] == version
		if restored {
			s.setLocked(tokenAddress, prev)
			s.persist(tokenAddress, prev)
		}
		current := s.favorites[tokenAddress]
		s.mu.Unlock()

		s.logger.Warn("Favorite toggle rolled back",
			slog.String("token", tokenAddress),
			slog.Bool("restored", restored),
			slog.Any("error", err))
		out <- ToggleResult{TokenAddress: tokenAddress, Favorite: current, Kind: RolledBack, Reason: err}
	}()
	return out
}

// Wait blocks until every outstanding remote call has resolved.
func (s *PreferenceService) Wait() {
	s.wg.Wait()
}

func (s *PreferenceService) setLocked(tokenAddress string, favorite bool) {
	if favorite {
		s.favorites[tokenAddress] = true
		return
	}
	delete(s.favorites, tokenAddress)
}

// persist must be called with mu held so store writes keep toggle order.
func (s *PreferenceService) persist(tokenAddress string, favorite bool) {
	if s.store == nil {
		return
	}
	if err := s.store.SetFavorite(tokenAddress, favorite); err != nil {
		s.logger.Warn("Failed to persist favorite", slog.String("token", tokenAddress), slog.Any("error", err))
	}
}
