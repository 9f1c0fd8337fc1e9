package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/api/handlers"
	"github.com/maheshrc27/campaignflow/internal/api/middleware"
	"github.com/maheshrc27/campaignflow/internal/service"
	"go.uber.org/zap"
)

type Services struct {
	Campaigns service.CampaignService
	Accounts  service.AccountService
	Keys      service.ApiKeyService
}

// NewApp builds the HTTP surface. Everything under /api requires auth.
func NewApp(cfg config.Config, svc Services, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(requestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		MaxAge:       3600,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg, svc.Keys, log)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	campaigns := handlers.NewCampaignHandler(svc.Campaigns, log)
	api.Post("/campaigns", campaigns.CreateCampaign)
	api.Get("/campaigns/:id", campaigns.GetCampaign)
	api.Delete("/campaigns/:id", campaigns.DeleteCampaign)
	api.Post("/campaigns/:id/schedule", campaigns.ScheduleCampaign)
	api.Post("/campaigns/:id/pause", campaigns.PauseCampaign)
	api.Post("/campaigns/:id/resume", campaigns.ResumeCampaign)
	api.Post("/campaigns/:id/cancel", campaigns.CancelCampaign)
	api.Post("/campaigns/:id/end", campaigns.EndCampaign)
	api.Get("/campaigns/:id/posts", campaigns.ListPosts)
	api.Post("/campaigns/:id/posts", campaigns.CreatePost)

	posts := handlers.NewPostHandler(svc.Campaigns, log)
	api.Post("/posts/:id/retry", posts.RetryPost)
	api.Post("/posts/:id/cancel", posts.CancelPost)
	api.Get("/posts/:id/analytics", posts.PostAnalytics)

	accounts := handlers.NewAccountHandler(svc.Accounts, log)
	api.Post("/accounts", accounts.AddAccount)
	api.Get("/accounts", accounts.ListAccounts)

	apiKeys := handlers.NewApiKeyHandler(svc.Keys, log)
	api.Post("/api_keys", apiKeys.CreateApiKey)
	api.Get("/api_keys", apiKeys.ListKeys)
	api.Delete("/api_keys/:id", apiKeys.RemoveAPIKey)

	return app
}

func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}
