package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/agendly/backend/internal/models"
	"github.com/agendly/backend/pkg/logger"
	"gorm.io/gorm"
)

const otpCodeSpace = 1000000

// OTPService issues and validates single-use numeric verification codes
// delivered over SMS.
type OTPService struct {
	DB      *gorm.DB
	Gateway SMSGateway
	TTL     time.Duration
}

func NewOTPService(db *gorm.DB, gateway SMSGateway, ttl time.Duration) *OTPService {
	return &OTPService{DB: db, Gateway: gateway, TTL: ttl}
}

// generateOTPCode draws uniformly from 000000-999999. Leading zeros are kept;
// every code is exactly six digits.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpCodeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Send issues a fresh code for the phone, replacing any unconsumed one, and
// hands it to the SMS gateway. A gateway failure removes the stored code and
// surfaces as ErrExternalService so the caller never believes a dead code is
// in flight.
func (s *OTPService) Send(ctx context.Context, phone string) (*models.OTPCode, error) {
	code, err := generateOTPCode()
	if err != nil {
		return nil, err
	}

	record := &models.OTPCode{
		Phone:     phone,
		Code:      code,
		ExpiresAt: time.Now().Add(s.TTL),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("phone = ? AND consumed = ?", phone, false).
			Delete(&models.OTPCode{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Your Agendly verification code is %s. It expires in %d minutes.", code, int(s.TTL.Minutes()))
	if err := s.Gateway.SendSMS(ctx, phone, body); err != nil {
		s.DB.WithContext(ctx).Unscoped().Delete(record)
		return nil, err
	}

	logger.Info("otp_issued", map[string]interface{}{
		"phone":      phone,
		"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
	})

	return record, nil
}

// Validate consumes a matching, unexpired code. The consume is one guarded
// update so a code can never validate twice, even under concurrent attempts.
func (s *OTPService) Validate(ctx context.Context, phone, code string) error {
	result := s.DB.WithContext(ctx).Model(&models.OTPCode{}).
		Where("phone = ? AND code = ? AND consumed = ? AND expires_at > ?", phone, code, false, time.Now()).
		Update("consumed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Distinguish a stale code from one that never existed (or was already
	// consumed) for logging purposes.
	var stale models.OTPCode
	err := s.DB.WithContext(ctx).
		First(&stale, "phone = ? AND code = ? AND consumed = ?", phone, code, false).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return ErrExpired
}
