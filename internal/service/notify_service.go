package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/models"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

// Notifier tells the campaign owner's operators that a post will not be
// delivered.
type Notifier interface {
	PostFailed(ctx context.Context, campaign *models.Campaign, post *models.ScheduledPost, reason string)
}

type nopNotifier struct{}

func NewNopNotifier() Notifier { return nopNotifier{} }

func (nopNotifier) PostFailed(context.Context, *models.Campaign, *models.ScheduledPost, string) {}

type telegramNotifier struct {
	bot    *tele.Bot
	chatID int64
	log    *zap.Logger
}

// NewNotifier returns a Telegram notifier when a bot token and chat are
// configured and a no-op one otherwise.
func NewNotifier(cfg config.TelegramConfig, log *zap.Logger) (Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return NewNopNotifier(), nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &telegramNotifier{bot: b, chatID: cfg.ChatID, log: log}, nil
}

func (n *telegramNotifier) PostFailed(_ context.Context, campaign *models.Campaign, post *models.ScheduledPost, reason string) {
	text := failureMessage(campaign, post, reason)
	_, err := n.bot.Send(&tele.Chat{ID: n.chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		n.log.Warn("failure alert not sent", zap.Int64("post_id", post.ID), zap.Error(err))
		return
	}
	n.log.Debug("failure alert sent", zap.Int64("post_id", post.ID), zap.Int64("chat_id", n.chatID))
}

func failureMessage(campaign *models.Campaign, post *models.ScheduledPost, reason string) string {
	var b strings.Builder
	b.WriteString("⚠️ Post delivery failed\n")
	if campaign != nil {
		fmt.Fprintf(&b, "Campaign: %s (#%d)\n", campaign.Name, campaign.ID)
	}
	fmt.Fprintf(&b, "Post: #%d, scheduled %s\n", post.ID, post.ScheduledAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Attempts: %d\n", post.RetryCount)
	fmt.Fprintf(&b, "Reason: %s", reason)
	return b.String()
}
