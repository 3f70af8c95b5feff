// Package postgres loads persisted expert chat conversations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/pkg/logger"
)

var _ chat.ConversationLoader = (*Store)(nil)

const selectMessages = `
	SELECT role, content, image_url, document_name, document_url, suggested_tutorials, created_at
	FROM chat_messages
	WHERE conversation_id = $1
	ORDER BY created_at ASC, id ASC`

// Store reads conversations written by the expert chat endpoint.
type Store struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewStore creates a store on top of db.
func NewStore(db *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type messageRow struct {
	Role               string
	Content            string
	ImageURL           *string
	DocumentName       *string
	DocumentURL        *string
	SuggestedTutorials []byte
	CreatedAt          time.Time
}

// LoadConversation returns the messages of conversationID in creation order.
// It returns chat.ErrConversationNotFound when there are none.
func (s *Store) LoadConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, selectMessages, conversationID)
	if err != nil {
		return nil, fmt.Errorf("database error loading conversation: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (messageRow, error) {
		var r messageRow
		err := row.Scan(
			&r.Role,
			&r.Content,
			&r.ImageURL,
			&r.DocumentName,
			&r.DocumentURL,
			&r.SuggestedTutorials,
			&r.CreatedAt,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("database error scanning messages: %w", err)
	}
	if len(records) == 0 {
		return nil, chat.ErrConversationNotFound
	}

	msgs := make([]model.Message, 0, len(records))
	for _, r := range records {
		m, err := r.toMessage()
		if err != nil {
			s.logger.Warn("conversation has malformed tutorials",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// toMessage converts a row. Malformed tutorial JSON is reported but the
// message is still returned without tutorials.
func (r messageRow) toMessage() (model.Message, error) {
	m := model.Message{
		Role:         model.Role(r.Role),
		Content:      r.Content,
		ImageBase64:  deref(r.ImageURL),
		DocumentName: deref(r.DocumentName),
		DocumentURL:  deref(r.DocumentURL),
		CreatedAt:    r.CreatedAt,
	}

	if len(r.SuggestedTutorials) == 0 || string(r.SuggestedTutorials) == "null" {
		return m, nil
	}

	var tutorials []model.Tutorial
	if err := json.Unmarshal(r.SuggestedTutorials, &tutorials); err != nil {
		return m, fmt.Errorf("decode suggested_tutorials: %w", err)
	}
	m.SuggestedTutorials = model.CloneTutorials(tutorials)
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
