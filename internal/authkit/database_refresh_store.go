package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatabaseRefreshTokenStore persists single-slot refresh tokens using GORM.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
}

type refreshTokenRecord struct {
	UserID       string `gorm:"column:user_id;primaryKey"`
	TokenHash    string `gorm:"column:token_hash;uniqueIndex;not null"`
	IssuedAtUnix int64  `gorm:"column:issued_at_unix;not null"`
}

func (refreshTokenRecord) TableName() string {
	return "refresh_tokens"
}

func (record refreshTokenRecord) toDomain() RefreshTokenRecord {
	return RefreshTokenRecord{
		UserID:    record.UserID,
		TokenHash: record.TokenHash,
		IssuedAt:  time.Unix(record.IssuedAtUnix, 0).UTC(),
	}
}

// NewDatabaseRefreshTokenStore opens the database and migrates the refresh_tokens table.
func NewDatabaseRefreshTokenStore(ctx context.Context, databaseURL string) (*DatabaseRefreshTokenStore, error) {
	gormDB, driverLabel, openErr := OpenDatabase(ctx, databaseURL)
	if openErr != nil {
		return nil, fmt.Errorf("refresh_store.open: %w", openErr)
	}
	return NewDatabaseRefreshTokenStoreFromDB(ctx, gormDB, driverLabel)
}

// NewDatabaseRefreshTokenStoreFromDB reuses an existing GORM handle.
func NewDatabaseRefreshTokenStoreFromDB(ctx context.Context, gormDB *gorm.DB, driverLabel string) (*DatabaseRefreshTokenStore, error) {
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&refreshTokenRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("refresh_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseRefreshTokenStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

// Replace deletes the user's prior record and inserts the new one in one transaction.
func (store *DatabaseRefreshTokenStore) Replace(ctx context.Context, applicationUserID string, token string, issuedAt time.Time) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("refresh_store.replace.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	record := refreshTokenRecord{
		UserID:       applicationUserID,
		TokenHash:    HashRefreshToken(token),
		IssuedAtUnix: issuedAt.UTC().Unix(),
	}
	transactionErr := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("user_id = ?", applicationUserID).Delete(&refreshTokenRecord{}).Error; err != nil {
			return err
		}
		return transaction.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_hash", "issued_at_unix"}),
		}).Create(&record).Error
	})
	if transactionErr != nil {
		return fmt.Errorf("refresh_store.replace.%s: %w", store.driverLabel, transactionErr)
	}
	return nil
}

// Lookup returns the live record of the user.
func (store *DatabaseRefreshTokenStore) Lookup(ctx context.Context, applicationUserID string) (RefreshTokenRecord, error) {
	var record refreshTokenRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", applicationUserID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RefreshTokenRecord{}, fmt.Errorf("refresh_store.lookup.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
		}
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.lookup.%s: %w", store.driverLabel, err)
	}
	return record.toDomain(), nil
}

// FindByToken locates a record by the hash of the opaque token.
func (store *DatabaseRefreshTokenStore) FindByToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	var record refreshTokenRecord
	err := store.db.WithContext(ctx).Where("token_hash = ?", HashRefreshToken(token)).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
		}
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, err)
	}
	return record.toDomain(), nil
}

// Delete removes the user's record.
func (store *DatabaseRefreshTokenStore) Delete(ctx context.Context, applicationUserID string) error {
	if err := store.db.WithContext(ctx).Where("user_id = ?", applicationUserID).Delete(&refreshTokenRecord{}).Error; err != nil {
		return fmt.Errorf("refresh_store.delete.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Count reports the number of records held for a user.
func (store *DatabaseRefreshTokenStore) Count(ctx context.Context, applicationUserID string) (int64, error) {
	var total int64
	if err := store.db.WithContext(ctx).Model(&refreshTokenRecord{}).Where("user_id = ?", applicationUserID).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("refresh_store.count.%s: %w", store.driverLabel, err)
	}
	return total, nil
}
