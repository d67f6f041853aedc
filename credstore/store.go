// Package credstore persists OAuth credentials per platform in a local
// SQLite database. Writes are last-writer-wins upserts; the soft variants
// log instead of failing because a broken storage medium must not take a
// live chat session down with it; it only costs the user a re-login on
// the next launch.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Credential is the stored token record for one platform. RefreshToken is
// empty for implicit-flow tokens; such credentials cannot be silently
// renewed and expiry forces re-authentication.
type Credential struct {
	Provider     string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	UpdatedAt    time.Time
}

// Store wraps the GORM handle for credential persistence.
type Store struct {
	db *gorm.DB
}

// Open initializes the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("credstore: create dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("credstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the storage medium is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Save upserts the credential for a provider. An access token is never
// persisted without a best-effort expiry: a zero ExpiresAt is defaulted to
// one hour out.
func (s *Store) Save(ctx context.Context, cred Credential) error {
	if cred.Provider == "" {
		return errors.New("credstore: empty provider")
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = time.Now().Add(time.Hour)
	}
	cred.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(&cred).Error
}

// Load returns the stored credential for a provider, or (nil, nil) when
// none exists.
func (s *Store) Load(ctx context.Context, provider string) (*Credential, error) {
	var cred Credential
	err := s.db.WithContext(ctx).First(&cred, "provider = ?", provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: load %s: %w", provider, err)
	}
	return &cred, nil
}

// Clear removes the credential for a provider. Clearing an absent
// credential is a no-op.
func (s *Store) Clear(ctx context.Context, provider string) error {
	return s.db.WithContext(ctx).Delete(&Credential{}, "provider = ?", provider).Error
}

// SaveSoft persists best-effort: medium errors are logged, not returned.
func (s *Store) SaveSoft(ctx context.Context, cred Credential) {
	if err := s.Save(ctx, cred); err != nil {
		slog.Warn("credential persist failed", slog.String("provider", cred.Provider), slog.Any("err", err))
	}
}

// ClearSoft clears best-effort: medium errors are logged, not returned.
func (s *Store) ClearSoft(ctx context.Context, provider string) {
	if err := s.Clear(ctx, provider); err != nil {
		slog.Warn("credential clear failed", slog.String("provider", provider), slog.Any("err", err))
	}
}
