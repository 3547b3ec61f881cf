package handlers

import (
	"encoding/json"
	"errors"

	"github.com/agendly/backend/internal/middleware"
	"github.com/agendly/backend/internal/services"
	"github.com/agendly/backend/pkg/logger"
	"github.com/agendly/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type PasskeyHandler struct {
	Passkeys *services.PasskeyService
	Creds    *services.CredentialStore
	Audit    *services.AuditService
}

func NewPasskeyHandler(passkeys *services.PasskeyService, creds *services.CredentialStore, audit *services.AuditService) *PasskeyHandler {
	return &PasskeyHandler{Passkeys: passkeys, Creds: creds, Audit: audit}
}

func (h *PasskeyHandler) RegisterBegin(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	options, err := h.Passkeys.BeginRegistration(c.Context(), user.ID)
	if err != nil {
		return ceremonyError(c, err, "failed to start passkey registration")
	}

	return utils.Success(c, fiber.StatusOK, options)
}

type registerFinishRequest struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

func (h *PasskeyHandler) RegisterFinish(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req registerFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "response is required")
	}

	cred, err := h.Passkeys.FinishRegistration(c.Context(), user.ID, req.Name, req.Response)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			return utils.Error(c, fiber.StatusConflict, "credential already registered")
		}
		return ceremonyError(c, err, "passkey registration failed")
	}

	logger.Info("passkey_registered", map[string]interface{}{
		"user_id":       user.ID.String(),
		"credential_id": cred.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "passkey.register",
		ResourceType: "webauthn_credential",
		ResourceID:   &cred.ID,
		Details: map[string]interface{}{
			"name": cred.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, cred)
}

type loginBeginRequest struct {
	MFAToken string `json:"mfaToken"`
}

func (h *PasskeyHandler) LoginBegin(c *fiber.Ctx) error {
	var req loginBeginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.MFAToken == "" {
		return utils.Error(c, fiber.StatusBadRequest, "mfaToken is required")
	}

	claims, err := utils.ValidateMFAToken(req.MFAToken)
	if err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired MFA token")
	}
	if !utils.IsJTIValid(claims.JTI) {
		return utils.Error(c, fiber.StatusUnauthorized, "MFA token already used")
	}

	options, err := h.Passkeys.BeginLogin(c.Context(), claims.UserID)
	if err != nil {
		return ceremonyError(c, err, "failed to start passkey login")
	}

	return utils.Success(c, fiber.StatusOK, options)
}

type loginFinishRequest struct {
	MFAToken string          `json:"mfaToken"`
	Response json.RawMessage `json:"response"`
}

func (h *PasskeyHandler) LoginFinish(c *fiber.Ctx) error {
	var req loginFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.MFAToken == "" || len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "mfaToken and response are required")
	}

	claims, err := utils.ValidateMFAToken(req.MFAToken)
	if err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired MFA token")
	}
	if !utils.IsJTIValid(claims.JTI) {
		return utils.Error(c, fiber.StatusUnauthorized, "MFA token already used")
	}

	user, err := h.Passkeys.FinishLogin(c.Context(), claims.UserID, req.Response)
	if err != nil {
		logger.Warn("passkey_login_failed", map[string]interface{}{
			"user_id": claims.UserID.String(),
			"ip":      c.IP(),
			"error":   err.Error(),
		})
		return ceremonyError(c, err, "passkey verification failed")
	}

	utils.ConsumeJTI(claims.JTI)

	token, err := utils.GenerateToken(user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("passkey_login", map[string]interface{}{
		"user_id": user.ID.String(),
		"ip":      c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.mfa_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"method": "webauthn",
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

func (h *PasskeyHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	creds, err := h.Creds.FindByUser(c.Context(), user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing passkeys")
	}

	return utils.Success(c, fiber.StatusOK, creds)
}

func (h *PasskeyHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid passkey id")
	}

	if err := h.Creds.Delete(c.Context(), id, user.ID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "passkey not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting passkey")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "passkey.delete",
		ResourceType: "webauthn_credential",
		ResourceID:   &id,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "passkey deleted"})
}
