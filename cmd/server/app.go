package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/ratelimit"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/internal/service"
	"go.uber.org/zap"
)

// application holds the wired components shared by every command.
type application struct {
	cfg *config.Config
	log *zap.Logger
	db  *sql.DB

	store   *repository.Store
	broker  queue.Broker
	limiter *ratelimit.Registry

	delivery  service.DeliveryService
	analytics service.AnalyticsService
	sweeper   service.SweeperService
	campaigns service.CampaignService
	accounts  service.AccountService
	keys      service.ApiKeyService
}

func newApplication(ctx context.Context, cfg *config.Config, log *zap.Logger) (*application, error) {
	a := &application{cfg: cfg, log: log}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	broker, err := queue.NewBroker(cfg, log)
	if err != nil {
		a.closeDB()
		return nil, err
	}
	a.broker = broker
	a.limiter = ratelimit.NewRegistry(cfg.RateLimit)

	platform := service.NewPlatformClient(cfg.Platform, cfg.SecretKey, a.store.Accounts, log.Named("platform"))

	var content service.ContentGenerator = service.KeywordContent{}
	if cfg.Content.ProjectID != "" {
		if content, err = service.NewGeminiGenerator(ctx, cfg.Content, log.Named("content")); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Warn("no content model configured, composing posts from campaign keywords")
	}

	notifier, err := service.NewNotifier(cfg.Telegram, log.Named("notify"))
	if err != nil {
		a.Close()
		return nil, err
	}

	var uploader service.Uploader
	if cfg.R2.BucketName != "" {
		r2, err := service.NewR2Service(ctx, cfg.R2)
		if err != nil {
			a.Close()
			return nil, err
		}
		uploader = r2
	}
	archiver := service.NewReportService(a.store, uploader, log.Named("report"))

	seed := time.Now().UnixNano()
	a.delivery = service.NewDeliveryService(a.store, a.broker, platform, a.limiter, notifier,
		service.NewBackoff(cfg.Retry, seed), cfg.Analytics.Cadence, log.Named("delivery"))
	a.analytics = service.NewAnalyticsService(a.store, a.broker, platform, a.limiter, cfg.Analytics, seed+1, log.Named("analytics"))
	a.sweeper = service.NewSweeperService(a.store, a.broker, platform, notifier, archiver, cfg.Sweeper, cfg.Analytics, log.Named("sweeper"))

	scheduler := service.NewSchedulerService(a.store, a.broker, content, cfg.Content.CharacterBudget, seed+2, log.Named("scheduler"))
	a.campaigns = service.NewCampaignService(a.store, a.broker, scheduler, archiver, log.Named("campaigns"))
	a.accounts = service.NewAccountService(a.store.Accounts, cfg.SecretKey, log.Named("accounts"))
	a.keys = service.NewApiKeyService(a.store.Keys, log.Named("keys"))

	a.broker.Handle(queue.KindDeliver, a.delivery.Deliver)
	a.broker.Handle(queue.KindRefreshAnalytics, a.analytics.Refresh)
	a.broker.Handle(queue.KindSweep, a.sweeper.HandleSweep)
	return a, nil
}

func (a *application) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case "memory":
		a.log.Warn("using the in-memory store, state is lost on exit")
		a.store = repository.NewMemoryStore()
		return nil
	case "postgres":
		db, err := sql.Open("postgres", a.cfg.PostgresURI)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return fmt.Errorf("database is unreachable: %w", err)
		}
		a.db = db
		a.store = repository.NewPostgresStore(db)
		return nil
	default:
		return fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

func (a *application) migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	if err := repository.Migrate(ctx, a.db); err != nil {
		return err
	}
	a.log.Info("schema migrated")
	return nil
}

// applyConfig pushes the settings that may change at runtime.
func (a *application) applyConfig(cfg *config.Config) {
	a.limiter.Update(cfg.RateLimit)
	a.delivery.SetRetryPolicy(cfg.Retry)
	a.sweeper.SetConfig(cfg.Sweeper)
}

func (a *application) closeDB() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *application) Close() error {
	var errs []error
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	errs = append(errs, a.closeDB())
	return errors.Join(errs...)
}
