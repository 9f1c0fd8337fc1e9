package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"go.uber.org/zap"
)

// GetUserID returns the caller set by the auth middleware.
func GetUserID(c *fiber.Ctx) int64 {
	userID, _ := c.Locals("user_id").(int64)
	return userID
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, apperrors.Validationf("parse path", "invalid id %q", c.Params("id"))
	}
	return int64(id), nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(transfer.ErrorResponse{
		Error: msg,
		Kind:  apperrors.KindValidation.String(),
	})
}

// sendError maps err to a status code by its kind.
func sendError(c *fiber.Ctx, log *zap.Logger, err error) error {
	resp := transfer.ErrorResponse{Error: err.Error(), Kind: apperrors.KindOf(err).String()}

	var insufficient *apperrors.InsufficientContentError
	status := fiber.StatusInternalServerError
	switch {
	case errors.As(err, &insufficient):
		status = fiber.StatusBadRequest
		resp.Needed, resp.Got = insufficient.Needed, insufficient.Got
	case errors.Is(err, apperrors.ErrNotFound):
		status = fiber.StatusNotFound
		resp.Kind = "not_found"
	case apperrors.KindOf(err) == apperrors.KindValidation:
		status = fiber.StatusBadRequest
	case apperrors.KindOf(err) == apperrors.KindInfrastructure:
		status = fiber.StatusServiceUnavailable
	}

	if status >= fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(resp)
}
