package models

import (
	"time"

	"github.com/google/uuid"
)

type CeremonyType string

const (
	CeremonyRegistration   CeremonyType = "registration"
	CeremonyAuthentication CeremonyType = "authentication"
)

// WebAuthnChallenge is the server-side record of an in-flight ceremony.
// At most one live row exists per (user, ceremony) pair; issuing a new
// challenge replaces the previous one.
type WebAuthnChallenge struct {
	BaseModel
	UserID      uuid.UUID    `json:"-" gorm:"type:uuid;index:idx_challenge_user_ceremony;not null"`
	Ceremony    CeremonyType `json:"-" gorm:"type:varchar(20);index:idx_challenge_user_ceremony;not null"`
	Challenge   []byte       `json:"-" gorm:"type:bytea;not null"`
	SessionData string       `json:"-" gorm:"type:text;not null"`
	ExpiresAt   time.Time    `json:"-" gorm:"not null;index"`
}
