package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trauma-chat/models"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// Store is the persistence layer for users and chat messages.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the schema.
func Open(databaseURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm connection (tests use sqlite here) and
// migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.User{}, &models.ChatMessage{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateUser inserts a new user, assigning an id if none is set.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(user).Error
}

// UserByName looks a user up by display name.
func (s *Store) UserByName(ctx context.Context, name string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	return user, err
}

// UserByEmail looks a user up by email.
func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	return user, err
}

// SaveMessage appends one chat message, stamping the insert time if the
// caller left it zero.
func (s *Store) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(msg).Error
}

// RecentMessages returns the user's most recent messages in chronological
// order. A limit of 0 returns everything.
func (s *Store) RecentMessages(ctx context.Context, userID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var msgs []models.ChatMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}

	// Flip newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
