package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"copytrade_go/internal/domain"
)

// Storage persists token preferences and app key-value settings in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (and migrates) the SQLite database at dbPath.
// An empty dbPath resolves to the per-user config directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		p, err := defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	return open(dbPath)
}

func open(dsn string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TokenPreference{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// defaultDBPath resolves the database file path based on OS
func defaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "CopyTrade", "data", "copytrade.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Preference Operations
// ======================================================================================

// SetFavorite sets the favorite flag, creating the preference if needed.
func (s *Storage) SetFavorite(tokenAddress string, favorite bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		pref := domain.TokenPreference{TokenAddress: tokenAddress}
		if err := tx.FirstOrCreate(&pref, domain.TokenPreference{TokenAddress: tokenAddress}).Error; err != nil {
			return err
		}
		return tx.Model(&pref).Update("is_favorite", favorite).Error
	})
}

// ListFavorites returns every favorite preference ordered by token address.
func (s *Storage) ListFavorites() ([]domain.TokenPreference, error) {
	var prefs []domain.TokenPreference
	err := s.db.Where("is_favorite = ?", true).Order("token_address").Find(&prefs).Error
	return prefs, err
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfig returns one stored value and whether it exists.
func (s *Storage) LoadConfig(key string) (string, bool, error) {
	var cfg domain.AppConfig
	err := s.db.Where(&domain.AppConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cfg.Value, true, nil
}
