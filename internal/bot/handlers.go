package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdStart   = "start"
	cmdClasses = "classes"
	cmdMy      = "my"

	cbBook   = "book"
	cbCancel = "cancel"
	cbAccept = "accept"
	cbLeave  = "leave"

	classesWindow = 7 * 24 * time.Hour
	timeLayout    = "Mon 02 Jan 15:04"
	cancelReason  = "cancelled via telegram"
)

const (
	msgHelp       = "Commands:\n/classes: classes in the next 7 days\n/my: your bookings\n/start: link this chat for notifications"
	msgSlowDown   = "You are sending messages too quickly. Please wait a moment."
	msgNoClasses  = "No classes are scheduled in the next 7 days."
	msgNoBookings = "You have no upcoming bookings. Use /classes to find one."
	msgFailed     = "Something went wrong. Please try again later."
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.reply(msg.Chat.ID, msgHelp)
		return
	}

	switch msg.Command() {
	case cmdStart:
		b.handleStart(ctx, msg)
	case cmdClasses:
		b.handleClasses(ctx, msg.Chat.ID)
	case cmdMy:
		b.handleMyBookings(ctx, msg.Chat.ID, msg.From.ID)
	default:
		b.reply(msg.Chat.ID, msgHelp)
	}
}

// handleStart links the chat so notifications reach the member here.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	user := &models.User{
		ID:             msg.From.ID,
		Name:           displayName(msg.From),
		TelegramChatID: msg.Chat.ID,
	}
	if err := b.store.UpsertUser(ctx, user); err != nil {
		b.logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to link telegram chat")
		b.reply(msg.Chat.ID, msgFailed)
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Hi %s! This chat now receives your booking notifications.\n\n%s", user.Name, msgHelp))
}

func (b *Bot) handleClasses(ctx context.Context, chatID int64) {
	now := b.now()
	classes, err := b.store.ListClasses(ctx, now, now.Add(classesWindow))
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to list classes")
		b.reply(chatID, msgFailed)
		return
	}

	var text strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range classes {
		if c.Status != models.ClassActive {
			continue
		}
		fmt.Fprintf(&text, "%s, %s: %d/%d booked\n", c.Name, c.StartsAt.Format(timeLayout), c.CurrentOccupancy, c.MaxOccupancy)

		label := "Book " + c.Name
		if c.IsFull() {
			label = "Join waitlist: " + c.Name
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s (%s)", label, c.StartsAt.Format(timeLayout)), callbackData(cbBook, c.ID)),
		))
	}
	if len(rows) == 0 {
		b.reply(chatID, msgNoClasses)
		return
	}

	msg := tgbotapi.NewMessage(chatID, text.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

func (b *Bot) handleMyBookings(ctx context.Context, chatID, userID int64) {
	bookings, err := b.store.GetUserBookings(ctx, userID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to load bookings")
		b.reply(chatID, msgFailed)
		return
	}

	var text strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	now := b.now()
	for _, booking := range bookings {
		if !booking.Status.IsActive() || booking.Status == models.StatusCompleted || !booking.ClassStartsAt.After(now) {
			continue
		}
		class, err := b.store.GetClass(ctx, booking.ClassID)
		if err != nil {
			b.logger.Error().Err(err).Int64("class_id", booking.ClassID).Msg("Failed to load class")
			continue
		}

		line, buttons := b.describeBooking(ctx, booking, class)
		text.WriteString(line)
		text.WriteByte('\n')
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	if text.Len() == 0 {
		b.reply(chatID, msgNoBookings)
		return
	}

	msg := tgbotapi.NewMessage(chatID, text.String())
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

func (b *Bot) describeBooking(ctx context.Context, booking *models.Booking, class *models.ScheduledClass) (string, []tgbotapi.InlineKeyboardButton) {
	when := class.StartsAt.Format(timeLayout)

	if booking.Status == models.StatusWaitlist {
		line := fmt.Sprintf("%s, %s: on the waitlist", class.Name, when)
		if entry, err := b.store.GetWaitlistEntry(ctx, class.ID, booking.UserID); err == nil && entry.IsQueued() {
			line = fmt.Sprintf("%s, %s: waitlist position %d", class.Name, when, entry.Position)
		}
		return line, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Leave waitlist: "+class.Name, callbackData(cbLeave, class.ID)),
		)
	}

	line := fmt.Sprintf("%s, %s: %s", class.Name, when, booking.Status)
	if booking.Status != models.StatusConfirmed {
		return line, nil
	}

	buttons := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel "+class.Name, callbackData(cbCancel, booking.ID)),
	)
	entry, err := b.store.GetWaitlistEntry(ctx, class.ID, booking.UserID)
	if err == nil && entry.Status == models.WaitlistNotified && entry.ExpiresAt != nil {
		line = fmt.Sprintf("%s, %s: spot held for you until %s", class.Name, when, entry.ExpiresAt.Format(timeLayout))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("Accept spot", callbackData(cbAccept, class.ID)))
	}
	return line, buttons
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to answer callback query")
	}
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID
	userID := q.From.ID
	actor := models.Member(userID)

	action, id, err := parseCallback(q.Data)
	if err != nil {
		b.logger.Warn().Err(err).Str("data", q.Data).Msg("Unknown callback")
		b.reply(chatID, msgHelp)
		return
	}

	var text string
	switch action {
	case cbBook:
		var res *domain.BookResult
		res, err = b.bookings.BookClass(ctx, actor, domain.BookRequest{ClassID: id, UserID: userID, JoinWaitlistIfFull: true})
		if err == nil {
			text = bookedText(res)
		}
	case cbCancel:
		var res *domain.CancelResult
		res, err = b.bookings.CancelBooking(ctx, actor, id, cancelReason)
		if err == nil {
			text = cancelledText(res)
		}
	case cbAccept:
		_, err = b.waitlist.AcceptSpot(ctx, actor, id, userID)
		text = "Spot accepted. See you in class!"
	case cbLeave:
		err = b.waitlist.Leave(ctx, actor, id, userID)
		text = "You left the waitlist."
	}

	if err != nil {
		if !database.IsPrecondition(err) && !errors.Is(err, database.ErrNotFound) {
			b.logger.Error().Err(err).Str("action", action).Int64("id", id).Int64("user_id", userID).Msg("Bot action failed")
		}
		text = userMessage(err)
	}
	b.reply(chatID, text)
}

func bookedText(res *domain.BookResult) string {
	if res.WaitlistEntry != nil {
		return fmt.Sprintf("The class is full. You are number %d on the waitlist.", res.WaitlistEntry.Position)
	}
	return fmt.Sprintf("Booked! Your booking number is %d.", res.Booking.ID)
}

func cancelledText(res *domain.CancelResult) string {
	if res.Booking.PenaltyPercentage > 0 {
		return fmt.Sprintf("Booking cancelled. A %.0f%% late cancellation fee applies.", res.Booking.PenaltyPercentage)
	}
	return "Booking cancelled."
}

func callbackData(action string, id int64) string {
	return action + ":" + strconv.FormatInt(id, 10)
}

func parseCallback(data string) (string, int64, error) {
	action, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed callback %q", data)
	}
	switch action {
	case cbBook, cbCancel, cbAccept, cbLeave:
	default:
		return "", 0, fmt.Errorf("unknown callback action %q", action)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("malformed callback id %q", rawID)
	}
	return action, id, nil
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}
