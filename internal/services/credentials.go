package services

import (
	"context"
	"errors"
	"time"

	"github.com/agendly/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CredentialStore persists per-user public-key credentials and their replay
// counters.
type CredentialStore struct {
	DB *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{DB: db}
}

// Add inserts a new credential. Fails with ErrConflict when the credential ID
// is already registered, which covers duplicate registration attempts.
func (s *CredentialStore) Add(ctx context.Context, cred *models.WebAuthnCredential) error {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("credential_id = ?", cred.CredentialID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrConflict
	}
	return s.DB.WithContext(ctx).Create(cred).Error
}

func (s *CredentialStore) FindByUser(ctx context.Context, userID uuid.UUID) ([]models.WebAuthnCredential, error) {
	var creds []models.WebAuthnCredential
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&creds).Error
	return creds, err
}

func (s *CredentialStore) FindByID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error) {
	var cred models.WebAuthnCredential
	err := s.DB.WithContext(ctx).First(&cred, "credential_id = ?", credentialID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// UpdateCounter advances the sign counter for a credential. The update is a
// single guarded statement so two concurrent assertions cannot both pass the
// monotonicity check: the counter must strictly increase or the call fails
// with ErrValidationFailed, which indicates a replayed or cloned
// authenticator.
func (s *CredentialStore) UpdateCounter(ctx context.Context, credentialID []byte, newCount uint32) error {
	now := time.Now()
	result := s.DB.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("credential_id = ? AND sign_count < ?", credentialID, newCount).
		Updates(map[string]interface{}{
			"sign_count":   newCount,
			"last_used_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.FindByID(ctx, credentialID); err != nil {
			return err
		}
		return ErrValidationFailed
	}
	return nil
}

// Delete removes a credential owned by the given user.
func (s *CredentialStore) Delete(ctx context.Context, id, userID uuid.UUID) error {
	result := s.DB.WithContext(ctx).Unscoped().
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.WebAuthnCredential{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
