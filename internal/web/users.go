package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/tsession/internal/authkit"
	"github.com/tyemirov/tsession/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InMemoryUsers is a user directory used for demo and local runs.
type InMemoryUsers struct {
	mutex   sync.RWMutex
	byEmail map[string]authkit.User
}

// NewInMemoryUsers constructs a directory with an empty map.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{byEmail: make(map[string]authkit.User)}
}

// FindByEmail returns the user registered under the email.
func (store *InMemoryUsers) FindByEmail(ctx context.Context, email string) (authkit.User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	user, ok := store.byEmail[normalizeEmail(email)]
	if !ok {
		return authkit.User{}, fmt.Errorf("users.find.memory: %w", authkit.ErrUserNotFound)
	}
	return user, nil
}

// Create registers a new user with a generated id.
func (store *InMemoryUsers) Create(ctx context.Context, name string, email string, subject string, image string) (authkit.User, error) {
	key := normalizeEmail(email)
	if key == "" {
		return authkit.User{}, errors.New("users.create.memory: email must be non-empty")
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.byEmail[key]; exists {
		return authkit.User{}, fmt.Errorf("users.create.memory: %w", authkit.ErrUserExists)
	}
	user := authkit.User{
		ID:      uuid.NewString(),
		Email:   key,
		Name:    name,
		Subject: subject,
		Image:   image,
	}
	store.byEmail[key] = user
	return user, nil
}

// Len reports how many users are registered.
func (store *InMemoryUsers) Len() int {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return len(store.byEmail)
}

type userRecord struct {
	ID      string `gorm:"primaryKey;size:64"`
	Email   string `gorm:"uniqueIndex;size:320;not null"`
	Name    string `gorm:"size:256"`
	Subject string `gorm:"size:256;index"`
	Image   string `gorm:"size:2048"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) toDomain() authkit.User {
	return authkit.User{
		ID:      record.ID,
		Email:   record.Email,
		Name:    record.Name,
		Subject: record.Subject,
		Image:   record.Image,
	}
}

// DatabaseUsers persists users through GORM.
type DatabaseUsers struct {
	db *gorm.DB
}

// NewDatabaseUsers migrates the users table and returns the directory.
func NewDatabaseUsers(ctx context.Context, gormDB *gorm.DB) (*DatabaseUsers, error) {
	if gormDB == nil {
		return nil, errors.New("users.database.nil_db")
	}
	if err := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); err != nil {
		return nil, fmt.Errorf("users.database.migrate: %w", err)
	}
	return &DatabaseUsers{db: gormDB}, nil
}

// FindByEmail returns the user registered under the email.
func (store *DatabaseUsers) FindByEmail(ctx context.Context, email string) (authkit.User, error) {
	var record userRecord
	result := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return authkit.User{}, fmt.Errorf("users.find.database: %w", authkit.ErrUserNotFound)
	}
	if result.Error != nil {
		return authkit.User{}, fmt.Errorf("users.find.database: %w", result.Error)
	}
	return record.toDomain(), nil
}

// Create inserts a new user; a duplicate email yields authkit.ErrUserExists.
func (store *DatabaseUsers) Create(ctx context.Context, name string, email string, subject string, image string) (authkit.User, error) {
	key := normalizeEmail(email)
	if key == "" {
		return authkit.User{}, errors.New("users.create.database: email must be non-empty")
	}
	record := userRecord{
		ID:      uuid.NewString(),
		Email:   key,
		Name:    name,
		Subject: subject,
		Image:   image,
	}
	var created userRecord
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userRecord{}).Where("email = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return authkit.ErrUserExists
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return authkit.ErrUserExists
			}
			return err
		}
		created = record
		return nil
	})
	if txErr != nil {
		return authkit.User{}, fmt.Errorf("users.create.database: %w", txErr)
	}
	return created.toDomain(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HandleWhoAmI returns the materialized session of the authenticated caller.
func HandleWhoAmI(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(contextGin *gin.Context) {
		sessionValue, found := contextGin.Get(authkit.SessionContextKey)
		if !found {
			logger.Warn("missing session on context",
				zap.String("code", "api.me.missing_session"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		session, ok := sessionValue.(authkit.ExposedSession)
		if !ok || session.Anonymous() {
			logger.Warn("invalid session on context",
				zap.String("code", "api.me.invalid_session"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"user_id": contextGin.GetString(authkit.UserIDContextKey),
			"session": session,
		})
	}
}

// HandleBackendWhoAmI echoes the user id of a validated internal access token.
func HandleBackendWhoAmI(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		claims, ok := sessionvalidator.ClaimsFromContext(contextGin)
		if !ok {
			logger.Warn("missing backend claims on context",
				zap.String("code", "api.backend_me.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id": claims.UserID,
			"expires": claims.Expiry(),
		})
	}
}
