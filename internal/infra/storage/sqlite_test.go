package storage

import (
	"path/filepath"
	"testing"

	"copytrade_go/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetFavorite(t *testing.T) {
	s := setupTestDB(t)

	// Creates the row on first use.
	if err := s.SetFavorite("BONK", true); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}
	if err := s.SetFavorite("WIF", true); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}
	if err := s.SetFavorite("WIF", false); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}

	favs, err := s.ListFavorites()
	if err != nil {
		t.Fatalf("ListFavorites failed: %v", err)
	}
	if len(favs) != 1 || favs[0].TokenAddress != "BONK" {
		t.Errorf("favorites = %+v, want only BONK", favs)
	}

	// Turning it back on reuses the stored row.
	if err := s.SetFavorite("WIF", true); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}
	favs, err = s.ListFavorites()
	if err != nil {
		t.Fatalf("ListFavorites failed: %v", err)
	}
	if len(favs) != 2 || favs[0].TokenAddress != "BONK" || favs[1].TokenAddress != "WIF" {
		t.Errorf("favorites = %+v, want BONK and WIF", favs)
	}
}

func TestConfigOperations(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveConfig(domain.ConfigKeyLastSubject, "TOKEN-A"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := s.SaveConfig(domain.ConfigKeyLastSubject, "TOKEN-B"); err != nil {
		t.Fatalf("SaveConfig overwrite failed: %v", err)
	}

	v, ok, err := s.LoadConfig(domain.ConfigKeyLastSubject)
	if err != nil || !ok || v != "TOKEN-B" {
		t.Errorf("LoadConfig = %q, %v, %v; want TOKEN-B", v, ok, err)
	}

	if _, ok, err := s.LoadConfig("missing"); ok || err != nil {
		t.Errorf("LoadConfig(missing) = %v, %v", ok, err)
	}
}
