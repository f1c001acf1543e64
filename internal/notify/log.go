package notify

import (
	"context"

	"classbook/internal/domain"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log. It stands in when no
// delivery channel is configured.
type LogNotifier struct {
	logger *zerolog.Logger
}

var _ domain.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, userID int64, message string) error {
	n.logger.Info().Int64("user_id", userID).Str("message", message).Msg("Notification")
	return nil
}
