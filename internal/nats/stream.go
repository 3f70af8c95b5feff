package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/pkg/logger"
)

const (
	// StreamName is the name of the archived turns stream.
	StreamName = "EXPERT_CHAT"

	// SubjectPrefix is the prefix for all archived conversation subjects.
	SubjectPrefix = "chat.conv"

	fetchBatch = 100
)

// ErrInvalidConversationID is returned for ids that cannot be used as a
// subject token.
var ErrInvalidConversationID = errors.New("nats: invalid conversation id")

// ArchivedMessage is the JetStream record of one transcript message. Inline
// images are not archived; they routinely exceed the server payload limit.
type ArchivedMessage struct {
	ConversationID string        `json:"conversationId"`
	Message        model.Message `json:"message"`
	HasImage       bool          `json:"hasImage,omitempty"`
	ArchivedAt     time.Time     `json:"archivedAt"`
}

func newArchivedMessage(conversationID string, m model.Message, at time.Time) ArchivedMessage {
	rec := ArchivedMessage{
		ConversationID: conversationID,
		Message:        m,
		HasImage:       m.ImageBase64 != "",
		ArchivedAt:     at,
	}
	rec.Message.ImageBase64 = ""
	return rec
}

// Archive mirrors finished turns into a JetStream stream and replays them.
type Archive struct {
	client *Client
	logger *logger.Logger
}

// NewArchive creates an archive on top of client.
func NewArchive(client *Client, log *logger.Logger) *Archive {
	return &Archive{client: client, logger: log}
}

// EnsureStream ensures the archive stream exists.
func (a *Archive) EnsureStream(ctx context.Context) error {
	js := a.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		Description: "Archived expert chat turns",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	a.logger.Info("created JetStream stream", zap.String("stream", StreamName))
	return nil
}

// MessageSubject returns the subject for one message of a conversation.
func MessageSubject(conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, role)
}

// ConversationFilter returns the filter subject for all messages of a
// conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, conversationID)
}

func validConversationID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ".*> \t\r\n")
}

// ArchiveTurn publishes msgs in order. Each message carries a deduplication
// id so a retried publish is stored once.
func (a *Archive) ArchiveTurn(ctx context.Context, conversationID string, msgs []model.Message) error {
	if !validConversationID(conversationID) {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, conversationID)
	}

	now := time.Now().UTC()
	for i, m := range msgs {
		data, err := json.Marshal(newArchivedMessage(conversationID, m, now))
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		_, err = a.client.JetStream().Publish(ctx, MessageSubject(conversationID, m.Role), data,
			jetstream.WithMsgID(dedupID(conversationID, m, i)),
		)
		if err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
	}
	return nil
}

func dedupID(conversationID string, m model.Message, index int) string {
	return fmt.Sprintf("%s-%d-%d-%s", conversationID, m.CreatedAt.UnixNano(), index, m.Role)
}

// LoadConversation replays every archived message of a conversation in
// stream order.
func (a *Archive) LoadConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if !validConversationID(conversationID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConversationID, conversationID)
	}

	consumer, err := a.client.JetStream().CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     ConversationFilter(conversationID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read consumer info: %w", err)
	}
	remaining := int(info.NumPending)
	if remaining == 0 {
		return nil, chat.ErrConversationNotFound
	}

	messages := make([]model.Message, 0, remaining)
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := consumer.Fetch(min(remaining, fetchBatch), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		got := 0
		for msg := range batch.Messages() {
			got++
			var rec ArchivedMessage
			if err := json.Unmarshal(msg.Data(), &rec); err != nil {
				a.logger.Warn("skipping undecodable archived message",
					zap.String("subject", msg.Subject()),
					zap.Error(err),
				)
				continue
			}
			messages = append(messages, rec.Message)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if got == 0 {
			break
		}
		remaining -= got
	}

	if len(messages) == 0 {
		return nil, chat.ErrConversationNotFound
	}
	return messages, nil
}
