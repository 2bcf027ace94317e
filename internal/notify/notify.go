package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier accepts send-notification requests. Delivery is fire-and-forget
// from the scheduling core's point of view: a failed notification is reported
// by the caller but never rolls back the state change that triggered it.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, message string) error
}

// LogNotifier writes notifications to the log. It stands in for a real
// delivery channel (email, push) wired in by the surrounding application.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, recipientID uuid.UUID, message string) error {
	n.logger.Info().
		Str("recipient_id", recipientID.String()).
		Str("message", message).
		Msg("notification")
	return nil
}
