package models

import "time"

// OTPCode is a single-use numeric verification code delivered over SMS.
type OTPCode struct {
	BaseModel
	Phone     string    `json:"-" gorm:"type:varchar(32);index;not null"`
	Code      string    `json:"-" gorm:"type:varchar(6);not null"`
	ExpiresAt time.Time `json:"-" gorm:"not null;index"`
	Consumed  bool      `json:"-" gorm:"default:false"`
}
