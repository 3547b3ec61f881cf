package handlers

import (
	"time"

	"github.com/agendly/backend/internal/middleware"
	"github.com/agendly/backend/internal/models"
	"github.com/agendly/backend/internal/services"
	"github.com/agendly/backend/pkg/logger"
	"github.com/agendly/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

type MFAHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
}

func NewMFAHandler(db *gorm.DB, audit *services.AuditService) *MFAHandler {
	return &MFAHandler{DB: db, Audit: audit}
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var mfaCfg models.MFAConfig
	hasMFA := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error == nil

	var credCount int64
	h.DB.Model(&models.WebAuthnCredential{}).Where("user_id = ?", user.ID).Count(&credCount)

	totpEnabled := hasMFA && mfaCfg.TOTPEnabled
	passkeysEnabled := credCount > 0
	mfaEnabled := totpEnabled || passkeysEnabled

	var totpVerifiedAt *time.Time
	if hasMFA {
		totpVerifiedAt = mfaCfg.TOTPVerifiedAt
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"mfaEnabled":      mfaEnabled,
		"totpEnabled":     totpEnabled,
		"totpVerifiedAt":  totpVerifiedAt,
		"passkeysEnabled": passkeysEnabled,
		"passkeysCount":   credCount,
		"phoneVerified":   user.IsPhoneVerified,
	})
}

func (h *MFAHandler) TOTPSetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var existing models.MFAConfig
	if err := h.DB.First(&existing, "user_id = ?", user.ID).Error; err == nil && existing.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Agendly",
		AccountName: user.Email,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate TOTP secret")
	}

	encryptedSecret, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to encrypt TOTP secret")
	}

	if existing.ID != [16]byte{} {
		if err := h.DB.Model(&existing).Updates(map[string]interface{}{
			"totp_secret":      encryptedSecret,
			"totp_enabled":     false,
			"totp_verified_at": nil,
		}).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to update TOTP config")
		}
	} else {
		mfaCfg := models.MFAConfig{
			UserID:     user.ID,
			TOTPSecret: encryptedSecret,
		}
		if err := h.DB.Create(&mfaCfg).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to save TOTP config")
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": key.Secret(),
		"qrUri":  key.URL(),
	})
}

type verifyTOTPSetupRequest struct {
	Code string `json:"code"`
}

func (h *MFAHandler) TOTPVerifySetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyTOTPSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "TOTP setup not started")
	}

	if mfaCfg.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	}

	totpSecret := utils.DecryptOrPlaintext(mfaCfg.TOTPSecret)
	if !totp.Validate(req.Code, totpSecret) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid TOTP code")
	}

	now := time.Now()
	if err := h.DB.Model(&mfaCfg).Updates(map[string]interface{}{
		"totp_enabled":     true,
		"totp_verified_at": now,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to enable TOTP")
	}

	logger.Info("mfa_totp_enabled", map[string]interface{}{
		"user_id": user.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_enabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"totpEnabled": true})
}

type disableTOTPRequest struct {
	Password string `json:"password"`
}

func (h *MFAHandler) TOTPDisable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req disableTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var dbUser models.User
	if err := h.DB.First(&dbUser, "id = ?", user.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load user")
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "MFA is not configured")
	}

	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}
	if !utils.CheckPassword(req.Password, dbUser.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid password")
	}

	if err := h.DB.Model(&mfaCfg).Updates(map[string]interface{}{
		"totp_enabled":     false,
		"totp_secret":      "",
		"totp_verified_at": nil,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to disable TOTP")
	}

	logger.Info("mfa_totp_disabled", map[string]interface{}{
		"user_id": user.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_disabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "TOTP disabled"})
}

type verifyMFATOTPRequest struct {
	MFAToken string `json:"mfaToken"`
	Code     string `json:"code"`
}

func (h *MFAHandler) VerifyTOTP(c *fiber.Ctx) error {
	var req verifyMFATOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.MFAToken == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "mfaToken and code are required")
	}

	claims, err := utils.ValidateMFAToken(req.MFAToken)
	if err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired MFA token")
	}

	if !utils.IsJTIValid(claims.JTI) {
		return utils.Error(c, fiber.StatusUnauthorized, "MFA token already used")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error; err != nil || !mfaCfg.TOTPEnabled {
		return utils.Error(c, fiber.StatusBadRequest, "TOTP is not enabled")
	}

	totpSecret := utils.DecryptOrPlaintext(mfaCfg.TOTPSecret)
	if !totp.Validate(req.Code, totpSecret) {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid TOTP code")
	}

	utils.ConsumeJTI(claims.JTI)

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("mfa_totp_verified", map[string]interface{}{
		"user_id": user.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.mfa_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"method": "totp",
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

func UserHasMFA(db *gorm.DB, user *models.User) (bool, []string) {
	var mfaCfg models.MFAConfig
	hasTOTP := false
	if err := db.First(&mfaCfg, "user_id = ?", user.ID).Error; err == nil {
		hasTOTP = mfaCfg.TOTPEnabled
	}

	var credCount int64
	db.Model(&models.WebAuthnCredential{}).Where("user_id = ?", user.ID).Count(&credCount)
	hasPasskeys := credCount > 0

	hasSMS := user.IsPhoneVerified && user.Phone != ""

	if !hasTOTP && !hasPasskeys && !hasSMS {
		return false, nil
	}

	var methods []string
	if hasPasskeys {
		methods = append(methods, "webauthn")
	}
	if hasTOTP {
		methods = append(methods, "totp")
	}
	if hasSMS {
		methods = append(methods, "sms")
	}
	return true, methods
}
