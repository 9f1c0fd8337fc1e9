package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/service"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"go.uber.org/zap"
)

type AccountHandler struct {
	s   service.AccountService
	log *zap.Logger
}

func NewAccountHandler(s service.AccountService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{s: s, log: log}
}

func (h *AccountHandler) AddAccount(c *fiber.Ctx) error {
	var req transfer.AccountRegistration
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unable to parse body")
	}
	account, err := h.s.Register(c.UserContext(), GetUserID(c), service.AccountRegistration{
		Platform:     req.Platform,
		Handle:       req.Handle,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.s.List(c.UserContext(), GetUserID(c))
	if err != nil {
		return sendError(c, h.log, err)
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	return c.JSON(accounts)
}
