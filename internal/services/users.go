package services

import (
	"context"
	"errors"

	"github.com/agendly/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserStore exposes the identity reads the auth core needs. User rows are
// owned by the account management side; the auth core never mutates them
// beyond the phone verification flag.
type UserStore struct {
	DB *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{DB: db}
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) MarkPhoneVerified(ctx context.Context, id uuid.UUID) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("is_phone_verified", true).Error
}
