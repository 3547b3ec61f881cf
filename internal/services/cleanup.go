package services

import (
	"time"

	"github.com/agendly/backend/internal/models"
	"github.com/agendly/backend/pkg/logger"
	"gorm.io/gorm"
)

// StartExpirySweeper periodically deletes challenge and OTP rows that
// outlived their TTL. Consume paths already treat stale rows as expired; the
// sweeper only keeps the tables from growing without bound.
func StartExpirySweeper(db *gorm.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			now := time.Now()
			if err := db.Unscoped().Where("expires_at < ?", now).Delete(&models.WebAuthnChallenge{}).Error; err != nil {
				logger.Error("challenge_sweep_failed", err, nil)
			}
			if err := db.Unscoped().Where("expires_at < ?", now).Delete(&models.OTPCode{}).Error; err != nil {
				logger.Error("otp_sweep_failed", err, nil)
			}
		}
	}()
}
