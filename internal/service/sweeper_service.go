package service

import (
	"context"
	"errors"
	"sync"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"go.uber.org/zap"
)

// SweepReport counts what one sweep pass changed.
type SweepReport struct {
	Reconciled     int `json:"reconciled"`
	Reclaimed      int `json:"reclaimed"`
	Enqueued       int `json:"enqueued"`
	FastTracked    int `json:"fast_tracked"`
	Expired        int `json:"expired"`
	Recovered      int `json:"recovered"`
	Refills        int `json:"refills"`
	CampaignsEnded int `json:"campaigns_ended"`
	Purged         int `json:"purged"`
}

type SweeperService interface {
	// Sweep runs one reconciliation pass.
	Sweep(ctx context.Context) (*SweepReport, error)
	HandleSweep(ctx context.Context, t queue.Task) error
	SetConfig(cfg config.SweeperConfig)
}

type sweeperService struct {
	store     *repository.Store
	queue     queue.Enqueuer
	publisher Publisher
	notifier  Notifier
	archiver  ReportArchiver
	analytics config.AnalyticsConfig
	log       *zap.Logger
	now       func() time.Time

	mu  sync.Mutex
	cfg config.SweeperConfig
}

func NewSweeperService(
	store *repository.Store,
	q queue.Enqueuer,
	publisher Publisher,
	notifier Notifier,
	archiver ReportArchiver,
	cfg config.SweeperConfig,
	analytics config.AnalyticsConfig,
	log *zap.Logger,
) SweeperService {
	return &sweeperService{
		store:     store,
		queue:     q,
		publisher: publisher,
		notifier:  notifier,
		archiver:  archiver,
		analytics: analytics,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// SetConfig takes effect from the next pass.
func (s *sweeperService) SetConfig(cfg config.SweeperConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *sweeperService) config() config.SweeperConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *sweeperService) HandleSweep(ctx context.Context, _ queue.Task) error {
	_, err := s.Sweep(ctx)
	return err
}

func (s *sweeperService) Sweep(ctx context.Context) (*SweepReport, error) {
	cfg := s.config()
	report := &SweepReport{}
	steps := []struct {
		name string
		run  func(context.Context, config.SweeperConfig, *SweepReport) error
	}{
		{"reconcile stuck claims", s.reconcileStuck},
		{"enqueue upcoming posts", s.enqueueUpcoming},
		{"apply stale policy", s.applyStalePolicy},
		{"recover lost retries", s.recoverRetries},
		{"refill analytics", s.refillAnalytics},
		{"end campaigns", s.endCampaigns},
		{"purge old posts", s.purgeFinished},
	}

	var errs []error
	for _, step := range steps {
		if err := step.run(ctx, cfg, report); err != nil {
			s.log.Error("sweep step failed", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, err)
		}
	}

	s.log.Info("sweep finished",
		zap.Int("reconciled", report.Reconciled),
		zap.Int("reclaimed", report.Reclaimed),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("fast_tracked", report.FastTracked),
		zap.Int("expired", report.Expired),
		zap.Int("recovered", report.Recovered),
		zap.Int("refills", report.Refills),
		zap.Int("campaigns_ended", report.CampaignsEnded),
		zap.Int("purged", report.Purged),
	)
	return report, errors.Join(errs...)
}

// reconcileStuck handles claims whose worker went away. The platform is
// asked first so a post that did go out is recorded instead of re-sent.
func (s *sweeperService) reconcileStuck(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	now := s.now()
	stuck, err := s.store.Posts.ListStuck(ctx, now.Add(-cfg.StuckTimeout), cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, p := range stuck {
		log := s.log.With(zap.Int64("post_id", p.ID))

		account, err := s.accountFor(ctx, p.CampaignID)
		if err != nil {
			log.Warn("load account for stuck post", zap.Error(err))
			continue
		}
		if account != nil {
			externalID, found, err := s.publisher.Lookup(ctx, account, p.IdempotencyKey)
			if err != nil {
				log.Warn("look up stuck post on platform", zap.Error(err))
				continue
			}
			if found {
				ok, err := s.store.Posts.CompleteClaim(ctx, p.ID, p.ClaimToken, externalID, now)
				if err != nil {
					log.Warn("record reconciled delivery", zap.Error(err))
					continue
				}
				if ok {
					r.Reconciled++
					log.Info("stuck post was already delivered", zap.String("external_id", externalID))
					scheduleFirstRefresh(ctx, s.queue, s.analytics.Cadence, p.ID, now, log)
				}
				continue
			}
		}

		ok, err := s.store.Posts.RequeueClaim(ctx, p.ID, p.ClaimToken, now)
		if err != nil {
			log.Warn("release stuck claim", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		task := queue.Task{Kind: queue.KindDeliver, TargetID: p.ID, NotBefore: now, Attempt: p.RetryCount}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			log.Warn("enqueue reclaimed post", zap.Error(err))
			continue
		}
		r.Reclaimed++
		log.Info("stuck claim released")
	}
	return nil
}

// enqueueUpcoming hands pending posts that are due soon to the broker. They
// are pending because an earlier enqueue failed or a resume reactivated them.
func (s *sweeperService) enqueueUpcoming(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	now := s.now()
	due, err := s.store.Posts.ListDue(ctx, []string{models.PostStatusPending}, now.Add(cfg.Lookahead), cfg.BatchSize)
	if err != nil {
		return err
	}
	overdue := now.Add(-cfg.GraceWindow)
	for _, p := range due {
		if p.NotBefore.Before(overdue) {
			continue
		}
		if enqueueDelivery(ctx, s.store.Posts, s.queue, s.log, p, []string{models.PostStatusPending}, p.NotBefore, queue.PriorityNormal, now) {
			r.Enqueued++
		}
	}
	return nil
}

func (s *sweeperService) applyStalePolicy(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	now := s.now()
	from := []string{models.PostStatusPending, models.PostStatusQueued}
	stale, err := s.store.Posts.ListDue(ctx, from, now.Add(-cfg.GraceWindow), cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, p := range stale {
		log := s.log.With(zap.Int64("post_id", p.ID), zap.Time("scheduled_at", p.ScheduledAt))
		if cfg.StalePolicy == config.StalePolicyFail {
			ok, err := s.store.Posts.Fail(ctx, p.ID, from, models.LastErrorMissed, now)
			if err != nil {
				log.Warn("fail stale post", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			r.Expired++
			log.Warn("post missed its delivery window")
			cancelDelivery(ctx, s.queue, log, p)

			campaign, err := s.store.Campaigns.GetByID(ctx, p.CampaignID)
			if err != nil {
				log.Warn("load campaign for alert", zap.Error(err))
			}
			failed := *p
			failed.Status = models.PostStatusFailed
			failed.LastError = models.LastErrorMissed
			s.notifier.PostFailed(ctx, campaign, &failed, models.LastErrorMissed)
			continue
		}

		if enqueueDelivery(ctx, s.store.Posts, s.queue, log, p, from, now, queue.PriorityHigh, now) {
			r.FastTracked++
			log.Info("stale post fast-tracked")
		}
	}
	return nil
}

// recoverRetries re-enqueues retry-wait posts whose backoff ended long ago;
// their task was lost.
func (s *sweeperService) recoverRetries(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	now := s.now()
	from := []string{models.PostStatusRetryWait}
	lost, err := s.store.Posts.ListDue(ctx, from, now.Add(-cfg.GraceWindow), cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, p := range lost {
		if enqueueDelivery(ctx, s.store.Posts, s.queue, s.log, p, from, now, queue.PriorityNormal, now) {
			r.Recovered++
		}
	}
	return nil
}

// refillAnalytics restarts refresh chains that stopped, for posts still
// inside the observation horizon.
func (s *sweeperService) refillAnalytics(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	gap := longestCadenceGap(s.analytics.Cadence)
	if gap <= 0 {
		return nil
	}
	now := s.now()
	ids, err := s.store.Analytics.ListRefreshGaps(ctx, now.Add(-s.analytics.Horizon), now.Add(-gap-cfg.GraceWindow), cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		p, err := s.store.Posts.GetByID(ctx, id)
		if err != nil || p == nil || p.DeliveredAt == nil {
			continue
		}
		task := queue.Task{
			Kind:      queue.KindRefreshAnalytics,
			TargetID:  id,
			NotBefore: now,
			Step:      cadenceStep(s.analytics.Cadence, *p.DeliveredAt, now),
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.log.Warn("enqueue analytics refill", zap.Int64("post_id", id), zap.Error(err))
			continue
		}
		r.Refills++
	}
	return nil
}

// endCampaigns closes campaigns whose last day is over, cancels what is
// left of them and archives their report.
func (s *sweeperService) endCampaigns(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	now := s.now()
	expired, err := s.store.Campaigns.ListExpired(ctx, now.Add(-day), cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, c := range expired {
		log := s.log.With(zap.Int64("campaign_id", c.ID))
		if err := s.store.Campaigns.SetStatus(ctx, c.ID, models.CampaignStatusEnded, nil, now); err != nil {
			log.Warn("end campaign", zap.Error(err))
			continue
		}
		cancelled, err := s.store.Posts.CancelByCampaign(ctx, c.ID, models.CancelReasonEnded, now)
		if err != nil {
			log.Warn("cancel remaining posts", zap.Error(err))
		}
		for _, p := range cancelled {
			cancelDelivery(ctx, s.queue, log, p)
		}
		r.CampaignsEnded++
		log.Info("campaign ended", zap.Int("cancelled", len(cancelled)))

		c.Status = models.CampaignStatusEnded
		if _, err := s.archiver.Archive(ctx, c); err != nil {
			log.Warn("archive campaign report", zap.Error(err))
		}
	}
	return nil
}

// purgeFinished deletes delivered and failed posts older than the retention
// period, with their snapshots. A zero retention keeps everything.
func (s *sweeperService) purgeFinished(ctx context.Context, cfg config.SweeperConfig, r *SweepReport) error {
	if cfg.Retention <= 0 {
		return nil
	}
	n, err := s.store.Posts.PurgeFinished(ctx, s.now().Add(-cfg.Retention), cfg.BatchSize)
	if err != nil {
		return err
	}
	r.Purged = n
	return nil
}

func (s *sweeperService) accountFor(ctx context.Context, campaignID int64) (*models.Account, error) {
	campaign, err := s.store.Campaigns.GetByID(ctx, campaignID)
	if err != nil || campaign == nil {
		return nil, err
	}
	return s.store.Accounts.GetByID(ctx, campaign.AccountID)
}
