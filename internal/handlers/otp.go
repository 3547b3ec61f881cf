package handlers

import (
	"errors"
	"strings"

	"github.com/agendly/backend/internal/services"
	"github.com/agendly/backend/pkg/logger"
	"github.com/agendly/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type OTPHandler struct {
	OTP   *services.OTPService
	Users *services.UserStore
	Audit *services.AuditService
}

func NewOTPHandler(otp *services.OTPService, users *services.UserStore, audit *services.AuditService) *OTPHandler {
	return &OTPHandler{OTP: otp, Users: users, Audit: audit}
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

func (h *OTPHandler) Send(c *fiber.Ctx) error {
	var req sendOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if !isValidPhone(req.Phone) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid phone number")
	}

	if _, err := h.OTP.Send(c.Context(), req.Phone); err != nil {
		if errors.Is(err, services.ErrExternalService) {
			return utils.Error(c, fiber.StatusBadGateway, "failed to deliver verification code")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to send verification code")
	}

	logger.Info("otp_sent", map[string]interface{}{
		"phone": req.Phone,
		"ip":    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "verification code sent"})
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *OTPHandler) Verify(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	if req.Phone == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "phone and code are required")
	}

	if err := h.OTP.Validate(c.Context(), req.Phone, req.Code); err != nil {
		logger.Warn("otp_verify_failed", map[string]interface{}{
			"phone": req.Phone,
			"ip":    c.IP(),
		})
		return ceremonyError(c, err, "invalid or expired code")
	}

	user, err := h.Users.GetByPhone(c.Context(), req.Phone)
	if err != nil {
		// The code was valid but no account owns the phone. Same generic
		// response as a wrong code.
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired code")
	}

	if !user.IsPhoneVerified {
		if err := h.Users.MarkPhoneVerified(c.Context(), user.ID); err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating phone status")
		}
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("otp_login", map[string]interface{}{
		"user_id": user.ID.String(),
		"ip":      c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.mfa_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"method": "sms",
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}
