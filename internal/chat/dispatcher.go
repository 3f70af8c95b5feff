package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/pkg/logger"
	"github.com/doutor-motors/expert-chat/pkg/metrics"
)

// Notifier delivers user-visible notices outside the transcript.
type Notifier interface {
	Notify(ctx context.Context, notice model.Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice model.Notice) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, notice model.Notice) error {
	return f(ctx, notice)
}

// Dispatcher folds decoded stream events into one turn.
type Dispatcher struct {
	turn      *Turn
	notifier  Notifier
	onCreated func(conversationID string)
	onNotice  func(model.Notice)
	logger    *logger.Logger
}

// Dispatch applies ev and reports whether the visible state changed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.StreamEvent) bool {
	switch e := ev.(type) {
	case model.TutorialsEvent:
		d.turn.SetPendingTutorials(e.Tutorials)
		return false

	case model.ConversationEvent:
		if !d.turn.SetConversationID(e.ConversationID) {
			return false
		}
		d.conversationCreated(ctx, e.ConversationID)
		return true

	case model.ContentDeltaEvent:
		return d.turn.ApplyContentDelta(e.Content)

	case model.UnknownEvent:
		metrics.RecordUnknownEvent(e.Type)
		d.logger.Warn("ignoring unrecognized stream event",
			zap.String("type", e.Type),
			zap.String("reason", e.Reason),
			zap.Int("bytes", len(e.Raw)),
		)
	}
	return false
}

func (d *Dispatcher) conversationCreated(ctx context.Context, conversationID string) {
	metrics.ConversationsCreated.Inc()
	d.logger.Info("conversation created", zap.String("conversation_id", conversationID))

	if d.onCreated != nil {
		d.onCreated(conversationID)
	}

	notice := model.Notice{
		Level:          model.NoticeSuccess,
		Title:          "Conversa salva",
		Description:    "Sua conversa foi salva no histórico.",
		ConversationID: conversationID,
	}
	if d.onNotice != nil {
		d.onNotice(notice)
	}
	if d.notifier != nil {
		if err := d.notifier.Notify(ctx, notice); err != nil {
			d.logger.Warn("failed to deliver notice",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}
}
