package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/service"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"go.uber.org/zap"
)

type ApiKeyHandler struct {
	s   service.ApiKeyService
	log *zap.Logger
}

func NewApiKeyHandler(s service.ApiKeyService, log *zap.Logger) *ApiKeyHandler {
	return &ApiKeyHandler{s: s, log: log}
}

func (h *ApiKeyHandler) CreateApiKey(c *fiber.Ctx) error {
	key, err := h.s.Create(c.UserContext(), GetUserID(c))
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(transfer.ApiKeyCreated{ApiKey: key})
}

func (h *ApiKeyHandler) ListKeys(c *fiber.Ctx) error {
	keys, err := h.s.List(c.UserContext(), GetUserID(c))
	if err != nil {
		return sendError(c, h.log, err)
	}
	if keys == nil {
		keys = []*models.ApiKey{}
	}
	return c.JSON(keys)
}

func (h *ApiKeyHandler) RemoveAPIKey(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	if err := h.s.RemoveAPIKey(c.UserContext(), GetUserID(c), id); err != nil {
		return sendError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
