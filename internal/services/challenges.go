package services

import (
	"context"
	"errors"
	"time"

	"github.com/agendly/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChallengeStore issues and consumes the one-time challenges that anchor
// WebAuthn ceremonies. At most one live challenge exists per (user, ceremony)
// pair: issuing a new one replaces the previous one, and a challenge is
// deleted on the first consume attempt regardless of the ceremony outcome.
type ChallengeStore interface {
	// Issue stores a fresh challenge and its serialized session data,
	// replacing any live challenge for the same (user, ceremony) key.
	Issue(ctx context.Context, userID uuid.UUID, ceremony models.CeremonyType, challenge []byte, sessionData string) error

	// Consume atomically retrieves and deletes the live challenge.
	// Returns ErrNotFound when no challenge exists (or a concurrent call
	// already consumed it) and ErrExpired when it outlived its TTL.
	Consume(ctx context.Context, userID uuid.UUID, ceremony models.CeremonyType) (string, error)
}

type GormChallengeStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewGormChallengeStore(db *gorm.DB, ttl time.Duration) *GormChallengeStore {
	return &GormChallengeStore{DB: db, TTL: ttl}
}

func (s *GormChallengeStore) Issue(ctx context.Context, userID uuid.UUID, ceremony models.CeremonyType, challenge []byte, sessionData string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("user_id = ? AND ceremony = ?", userID, ceremony).
			Delete(&models.WebAuthnChallenge{}).Error; err != nil {
			return err
		}

		row := models.WebAuthnChallenge{
			UserID:      userID,
			Ceremony:    ceremony,
			Challenge:   challenge,
			SessionData: sessionData,
			ExpiresAt:   time.Now().Add(s.TTL),
		}
		return tx.Create(&row).Error
	})
}

func (s *GormChallengeStore) Consume(ctx context.Context, userID uuid.UUID, ceremony models.CeremonyType) (string, error) {
	var row models.WebAuthnChallenge
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND ceremony = ?", userID, ceremony).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	// Guarded delete: if a concurrent consume already removed the row,
	// RowsAffected is zero and this attempt loses.
	result := s.DB.WithContext(ctx).Unscoped().
		Where("id = ?", row.ID).
		Delete(&models.WebAuthnChallenge{})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", ErrNotFound
	}

	if time.Now().After(row.ExpiresAt) {
		return "", ErrExpired
	}

	return row.SessionData, nil
}
