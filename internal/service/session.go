// Package service owns the chat sessions the gateway serves.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/middleware"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/pkg/logger"
	"github.com/doutor-motors/expert-chat/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown sessions and for sessions owned
// by another user.
var ErrSessionNotFound = errors.New("session not found")

// Config holds the dependencies shared by every session.
type Config struct {
	Transport chat.Transport
	Loader    chat.ConversationLoader
	Archiver  chat.Archiver

	// NotifierFor returns the notifier of a new session. Optional.
	NotifierFor func(sessionID string) chat.Notifier

	MaxLineBytes int
	IdleTTL      time.Duration
}

type entry struct {
	session  *chat.Session
	userID   string
	lastUsed time.Time
}

// SessionService holds chat sessions in memory, keyed by id and owned by the
// user that created them.
type SessionService struct {
	cfg    Config
	logger *logger.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewSessionService creates a new session service.
func NewSessionService(cfg Config, log *logger.Logger) *SessionService {
	return &SessionService{
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create opens a new empty session for userID.
func (s *SessionService) Create(ctx context.Context, userID string) (*chat.Session, error) {
	id := uuid.Must(uuid.NewV7()).String()
	log := s.logger.WithSession(middleware.GetCorrelationID(ctx), id, userID)

	opts := chat.Options{
		Transport:    s.cfg.Transport,
		Loader:       s.cfg.Loader,
		Archiver:     s.cfg.Archiver,
		Logger:       log,
		MaxLineBytes: s.cfg.MaxLineBytes,
	}
	if s.cfg.NotifierFor != nil {
		opts.Notifier = s.cfg.NotifierFor(id)
	}
	session := chat.NewSession(id, opts)

	s.mu.Lock()
	s.sessions[id] = &entry{session: session, userID: userID, lastUsed: s.now()}
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	log.Info("session created")

	return session, nil
}

// Get returns the session if userID owns it.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.userID != userID {
		return nil, ErrSessionNotFound
	}
	e.lastUsed = s.now()
	return e.session, nil
}

// Delete closes and forgets the session.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok || e.userID != userID {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	e.session.Close()
	metrics.SessionsActive.Dec()
	s.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Clear starts a new chat in the session.
func (s *SessionService) Clear(ctx context.Context, userID, sessionID string) error {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	session.Clear()
	return nil
}

// SelectCodes replaces the diagnostic codes of the session.
func (s *SessionService) SelectCodes(ctx context.Context, userID, sessionID string, codes []model.DiagnosticCode) (model.Snapshot, error) {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return model.Snapshot{}, err
	}
	session.SelectCodes(codes)
	return session.Snapshot(), nil
}

// Load replaces the session transcript with a persisted conversation.
func (s *SessionService) Load(ctx context.Context, userID, sessionID, conversationID string) (model.Snapshot, error) {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := session.LoadPersisted(ctx, conversationID); err != nil {
		return model.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Send runs one turn in the session.
func (s *SessionService) Send(ctx context.Context, userID, sessionID string, in chat.TurnInput, hooks chat.Hooks) error {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	defer s.touch(sessionID)
	return session.Send(ctx, in, hooks)
}

// Count returns the number of live sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle closes sessions unused for longer than the idle TTL. Sessions
// with a turn in flight are kept.
func (s *SessionService) EvictIdle() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.cfg.IdleTTL)
	var evicted []*entry

	s.mu.Lock()
	for id, e := range s.sessions {
		if e.lastUsed.After(cutoff) || e.session.Snapshot().Loading {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, e)
	}
	s.mu.Unlock()

	for _, e := range evicted {
		e.session.Close()
		metrics.SessionsActive.Dec()
	}
	if len(evicted) > 0 {
		s.logger.Info("evicted idle sessions", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Run evicts idle sessions periodically until ctx is done, then closes the
// remaining ones.
func (s *SessionService) Run(ctx context.Context) {
	interval := s.cfg.IdleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}

func (s *SessionService) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
		metrics.SessionsActive.Dec()
	}
}

func (s *SessionService) touch(sessionID string) {
	s.mu.Lock()
	if e, ok := s.sessions[sessionID]; ok {
		e.lastUsed = s.now()
	}
	s.mu.Unlock()
}
