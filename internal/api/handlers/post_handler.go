package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/service"
	"go.uber.org/zap"
)

type PostHandler struct {
	s   service.CampaignService
	log *zap.Logger
}

func NewPostHandler(s service.CampaignService, log *zap.Logger) *PostHandler {
	return &PostHandler{s: s, log: log}
}

func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	post, err := h.s.RetryPost(c.UserContext(), GetUserID(c), id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.JSON(post)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	if err := h.s.CancelPost(c.UserContext(), GetUserID(c), id); err != nil {
		return sendError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PostHandler) PostAnalytics(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	snaps, err := h.s.PostSnapshots(c.UserContext(), GetUserID(c), id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	if snaps == nil {
		snaps = []*models.AnalyticsSnapshot{}
	}
	return c.JSON(snaps)
}
