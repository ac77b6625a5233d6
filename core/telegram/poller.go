package telegram

import (
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/remindbot/core/config"
	"github.com/m3rciful/remindbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const defaultLongPollTimeout = 10 * time.Second

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
}

// PollerOptionsFrom maps the core configuration to PollerOptions.
func PollerOptionsFrom(cfg *coreconfig.Config) PollerOptions {
	return PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
		},
	}
}

// BuildPoller returns the update source for the run mode. Updates the bot
// cannot act on (no message and no callback) are filtered out before routing.
func BuildPoller(opts PollerOptions) tele.Poller {
	var base tele.Poller
	if opts.RunMode == coreconfig.RunModeWebhook {
		base = &tele.Webhook{
			Listen:   fmt.Sprintf("%s:%d", opts.Webhook.Listen, opts.Webhook.Port),
			Endpoint: &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
		}
	} else {
		timeout := defaultLongPollTimeout
		if opts.LongPollTimeoutSeconds > 0 {
			timeout = time.Duration(opts.LongPollTimeoutSeconds) * time.Second
		}
		base = &tele.LongPoller{
			Timeout:        timeout,
			AllowedUpdates: []string{"message", "callback_query"},
		}
	}
	return tele.NewMiddlewarePoller(base, acceptUpdate)
}

func acceptUpdate(upd *tele.Update) bool {
	if upd.Message != nil || upd.Callback != nil {
		return true
	}
	logger.TG.LogAttrs(logger.Background(), slog.LevelDebug, "update.filtered",
		slog.Int("update_id", upd.ID),
		slog.String("outcome", "ignored"),
	)
	return false
}
