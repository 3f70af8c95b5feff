package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doutor-motors/expert-chat/internal/model"
)

// NoticeSubjectPrefix is the prefix of the core NATS subjects notices are
// published on.
const NoticeSubjectPrefix = "chat.notice"

// NoticeEnvelope is the published form of a notice.
type NoticeEnvelope struct {
	SessionID string       `json:"sessionId,omitempty"`
	Notice    model.Notice `json:"notice"`
	SentAt    time.Time    `json:"sentAt"`
}

// Notifier publishes user-visible notices on core NATS for other services
// (history sidebar, mobile push) to pick up.
type Notifier struct {
	client    *Client
	sessionID string
}

// NewNotifier creates a notifier. sessionID tags every published notice and
// may be empty.
func NewNotifier(client *Client, sessionID string) *Notifier {
	return &Notifier{client: client, sessionID: sessionID}
}

// NoticeSubject returns the subject for a notice level.
func NoticeSubject(level model.NoticeLevel) string {
	return fmt.Sprintf("%s.%s", NoticeSubjectPrefix, level)
}

// Notify publishes notice. Core NATS publishes are fire-and-forget; the
// context only bounds the flush.
func (n *Notifier) Notify(ctx context.Context, notice model.Notice) error {
	data, err := json.Marshal(NoticeEnvelope{
		SessionID: n.sessionID,
		Notice:    notice,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	if err := n.client.Conn().Publish(NoticeSubject(notice.Level), data); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	return n.client.Ping(ctx)
}
