package handlers

import (
	"errors"
	"strings"

	"github.com/agendly/backend/internal/services"
	"github.com/agendly/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

// ceremonyError maps an internal error kind to a generic response. The
// message never distinguishes an unknown user or credential from a failed
// verification, so callers cannot enumerate accounts through error
// differences.
func ceremonyError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrExpired),
		errors.Is(err, services.ErrValidationFailed):
		return utils.Error(c, fiber.StatusUnauthorized, message)
	case errors.Is(err, services.ErrConflict):
		return utils.Error(c, fiber.StatusConflict, message)
	case errors.Is(err, services.ErrExternalService):
		return utils.Error(c, fiber.StatusBadGateway, message)
	default:
		return utils.Error(c, fiber.StatusInternalServerError, message)
	}
}
