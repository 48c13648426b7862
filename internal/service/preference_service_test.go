package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"copytrade_go/internal/domain"
)

type fakePreferenceRemote struct {
	mu    sync.Mutex
	err   error
	errOn map[bool]error
	gate  chan struct{}
	calls int
}

func (r *fakePreferenceRemote) SetFavorite(_ context.Context, _ string, favorite bool) error {
	r.mu.Lock()
	r.calls++
	gate, err := r.gate, r.err
	if e, ok := r.errOn[favorite]; ok {
		err = e
	}
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

type memoryPreferenceStore struct {
	mu     sync.Mutex
	values map[string]bool
}

func newMemoryPreferenceStore() *memoryPreferenceStore {
	return &memoryPreferenceStore{values: make(map[string]bool)}
}

func (m *memoryPreferenceStore) SetFavorite(token string, favorite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[token] = favorite
	return nil
}

func (m *memoryPreferenceStore) ListFavorites() ([]domain.TokenPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TokenPreference
	for token, fav := range m.values {
		if fav {
			out = append(out, domain.TokenPreference{TokenAddress: token, IsFavorite: true})
		}
	}
	return out, nil
}

func (m *memoryPreferenceStore) get(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[token]
}

func receive(t *testing.T, ch <-chan ToggleResult) ToggleResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for toggle result")
	}
	return ToggleResult{}
}

func TestPreferenceService_Applied(t *testing.T) {
	remote := &fakePreferenceRemote{}
	store := newMemoryPreferenceStore()
	svc := NewPreferenceService(remote, store)

	res := receive(t, svc.ToggleFavorite(context.Background(), "SOL"))

	if res.Kind != Applied || !res.Favorite || res.Reason != nil {
		t.Errorf("result = %+v, want Applied favorite", res)
	}
	if !svc.IsFavorite("SOL") || !store.get("SOL") {
		t.Error("Expected SOL to be a persisted favorite")
	}
}

func TestPreferenceService_OptimisticThenRollback(t *testing.T) {
	remote := &fakePreferenceRemote{err: errors.New("500"), gate: make(chan struct{})}
	store := newMemoryPreferenceStore()
	svc := NewPreferenceService(remote, store)

	ch := svc.SetFavorite(context.Background(), "BONK", true)

	// Local value is applied before the remote answers.
	if !svc.IsFavorite("BONK") {
		t.Error("Expected optimistic favorite before remote resolves")
	}

	close(remote.gate)
	res := receive(t, ch)

	if res.Kind != RolledBack || res.Reason == nil {
		t.Fatalf("result = %+v, want RolledBack with reason", res)
	}
	if res.Favorite || svc.IsFavorite("BONK") || store.get("BONK") {
		t.Error("Expected favorite to be rolled back locally and in store")
	}
}

func TestPreferenceService_StaleRollbackSkipped(t *testing.T) {
	remote := &fakePreferenceRemote{
		gate:  make(chan struct{}),
		errOn: map[bool]error{true: errors.New("timeout")},
	}
	svc := NewPreferenceService(remote, nil)

	first := svc.SetFavorite(context.Background(), "WIF", true)
	// A newer toggle lands before the first remote call fails.
	second := svc.SetFavorite(context.Background(), "WIF", false)

	close(remote.gate)
	r1 := receive(t, first)
	r2 := receive(t, second)
	svc.Wait()

	if r1.Kind != RolledBack {
		t.Errorf("first result = %+v, want RolledBack", r1)
	}
	if r2.Kind != Applied {
		t.Errorf("second result = %+v, want Applied", r2)
	}
	if svc.IsFavorite("WIF") {
		t.Error("Expected the newer value (false) to survive")
	}
}

func TestPreferenceService_Load(t *testing.T) {
	store := newMemoryPreferenceStore()
	store.values["A"] = true
	store.values["B"] = false
	store.values["C"] = true

	svc := NewPreferenceService(&fakePreferenceRemote{}, store)
	if err := svc.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := svc.Favorites(); !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Errorf("Favorites() = %v, want [A C]", got)
	}
}
