package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/fees-engine/generic"
)

// LogNotifier writes each event to the log and keeps nothing. It is the
// notifier when no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("events")}
}

func (n *LogNotifier) Notify(_ context.Context, ev generic.Event) error {
	n.log.Info("event",
		zap.String("type", string(ev.Type)),
		zap.String("institution_id", ev.InstitutionID),
		zap.Time("occurred_at", ev.OccurredAt),
		zap.Any("payload", ev.Payload))
	return nil
}
