package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/service"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

type CampaignHandler struct {
	s   service.CampaignService
	log *zap.Logger
}

func NewCampaignHandler(s service.CampaignService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{s: s, log: log}
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req transfer.CampaignCreation
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unable to parse body")
	}
	start, end, err := service.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return sendError(c, h.log, err)
	}

	campaign := &models.Campaign{
		UserID:      GetUserID(c),
		AccountID:   req.AccountID,
		Name:        req.Name,
		Description: req.Description,
		Keywords:    req.Keywords,
		Hashtags:    req.Hashtags,
		Audience:    req.Audience,
		StartDate:   start,
		EndDate:     end.Add(-day),
		PostsPerDay: req.PostsPerDay,
	}
	id, err := h.s.Create(c.UserContext(), campaign)
	if err != nil {
		return sendError(c, h.log, err)
	}
	created, err := h.s.Get(c.UserContext(), campaign.UserID, id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	userID := GetUserID(c)
	campaign, err := h.s.Get(c.UserContext(), userID, id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	summary, err := h.s.Summary(c.UserContext(), userID, id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"campaign": campaign, "summary": summary})
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	var req transfer.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unable to parse body")
	}
	start, end, err := service.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return sendError(c, h.log, err)
	}

	res, err := h.s.Schedule(c.UserContext(), GetUserID(c), service.ScheduleRequest{
		CampaignID:  id,
		Start:       start,
		End:         end,
		PostsPerDay: req.PostsPerDay,
	})
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(transfer.ScheduleResponse{Created: res.Created, Enqueued: res.Enqueued})
}

func (h *CampaignHandler) CreatePost(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	var req transfer.PostCreation
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unable to parse body")
	}
	post, err := h.s.SchedulePost(c.UserContext(), GetUserID(c), service.PostRequest{
		CampaignID: id,
		Content:    req.Content,
		At:         req.ScheduledAt,
	})
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	n, err := h.s.Pause(c.UserContext(), GetUserID(c), id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.JSON(transfer.CancelResponse{Cancelled: n})
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	var req transfer.ResumeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "unable to parse body")
		}
	}
	reschedule := req.Reschedule || c.QueryBool("reschedule")
	n, err := h.s.Resume(c.UserContext(), GetUserID(c), id, reschedule)
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.JSON(transfer.ResumeResponse{Reactivated: n})
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	n, err := h.s.Cancel(c.UserContext(), GetUserID(c), id)
	if err != nil {
		return sendError(c, h.log, err)
	}
	return c.JSON(transfer.CancelResponse{Cancelled: n})
}

func (h *CampaignHandler) EndCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	if err := h.s.End(c.UserContext(), GetUserID(c), id); err != nil {
		return sendError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) DeleteCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	if err := h.s.Delete(c.UserContext(), GetUserID(c), id); err != nil {
		return sendError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) ListPosts(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return sendError(c, h.log, err)
	}
	posts, err := h.s.ListPosts(c.UserContext(), GetUserID(c), id, c.Query("status"))
	if err != nil {
		return sendError(c, h.log, err)
	}
	if posts == nil {
		posts = []*models.ScheduledPost{}
	}
	return c.JSON(posts)
}
