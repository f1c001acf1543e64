// Package bot serves member commands over Telegram: linking a chat for
// notifications, browsing classes, booking, cancelling and accepting a
// waitlist hold.
package bot

import (
	"context"
	"time"

	"classbook/internal/domain"
	"classbook/internal/metrics"
	"classbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the read and registration surface the bot needs.
type Store interface {
	UpsertUser(ctx context.Context, user *models.User) error
	GetClass(ctx context.Context, id int64) (*models.ScheduledClass, error)
	ListClasses(ctx context.Context, from, to time.Time) ([]*models.ScheduledClass, error)
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	GetWaitlistEntry(ctx context.Context, classID, userID int64) (*models.WaitlistEntry, error)
}

type Options struct {
	RateLimit  int
	RateWindow time.Duration
	Now        func() time.Time
}

// Bot identifies members by their Telegram user id.
type Bot struct {
	tg         domain.TelegramService
	store      Store
	bookings   domain.BookingService
	waitlist   domain.WaitlistService
	limiter    domain.RateLimitRepository
	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewBot(
	tg domain.TelegramService,
	store Store,
	bookings domain.BookingService,
	waitlist domain.WaitlistService,
	limiter domain.RateLimitRepository,
	opts Options,
	logger *zerolog.Logger,
) *Bot {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bot{
		tg:         tg,
		store:      store,
		bookings:   bookings,
		waitlist:   waitlist,
		limiter:    limiter,
		rateLimit:  opts.RateLimit,
		rateWindow: opts.RateWindow,
		now:        opts.Now,
		logger:     logger,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			b.tg.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		metrics.ObserveBotUpdate(time.Since(start).Seconds())
	}()

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var from *tgbotapi.User
		switch {
		case update.Message != nil:
			from = update.Message.From
		case update.CallbackQuery != nil:
			from = update.CallbackQuery.From
		}
		if from == nil || from.IsBot {
			return
		}

		if !b.allow(updateCtx, from.ID) {
			if update.Message != nil {
				b.reply(update.Message.Chat.ID, msgSlowDown)
			}
			return
		}

		if update.CallbackQuery != nil {
			metrics.IncBotUpdate("callback")
			b.handleCallback(updateCtx, update.CallbackQuery)
			return
		}
		metrics.IncBotUpdate("message")
		b.handleMessage(updateCtx, update.Message)
	})
}

// allow applies the per-user limit. A failing limiter lets the update through.
func (b *Bot) allow(ctx context.Context, userID int64) bool {
	if b.limiter == nil || b.rateLimit <= 0 {
		return true
	}
	allowed, err := b.limiter.CheckRateLimit(ctx, userID, b.rateLimit, b.rateWindow)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Rate limit check failed")
		return true
	}
	if !allowed {
		b.logger.Warn().Int64("user_id", userID).Msg("Rate limit exceeded")
	}
	return allowed
}

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBotUpdate("panic")
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error().Err(err).Msg("Failed to send telegram message")
	}
}

// BotWrapper adapts *tgbotapi.BotAPI to domain.TelegramService.
type BotWrapper struct {
	*tgbotapi.BotAPI
}

func NewBotWrapper(api *tgbotapi.BotAPI) *BotWrapper {
	return &BotWrapper{BotAPI: api}
}

func (w *BotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}
