// Package chat implements the expert chat stream consumer: the conversation
// state store, the event dispatcher and turn orchestration.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/doutor-motors/expert-chat/internal/model"
)

// FailureMarker prefixes the synthetic assistant message of a failed turn.
const FailureMarker = "❌"

var (
	// ErrTurnInProgress is returned when a turn is started while another
	// one is still loading.
	ErrTurnInProgress = errors.New("chat: a turn is already in progress")

	// ErrNoLoader is returned by LoadPersisted when no loader is configured.
	ErrNoLoader = errors.New("chat: no conversation loader configured")

	// ErrConversationNotFound is returned by loaders when the conversation
	// has no persisted messages.
	ErrConversationNotFound = errors.New("chat: conversation not found")
)

// ConversationLoader reads the persisted messages of a conversation.
type ConversationLoader interface {
	LoadConversation(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Store is the single source of truth for one chat session. Every mutation
// replaces the message slice instead of writing into it, so a snapshot taken
// earlier never changes.
type Store struct {
	mu             sync.RWMutex
	messages       []model.Message
	conversationID string
	loading        bool
	pending        []model.Tutorial
	codes          []model.DiagnosticCode

	// gen is bumped whenever the transcript is replaced wholesale; a Turn
	// started under an older generation no longer touches state.
	gen uint64

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Turn is the handle of the turn currently under construction.
type Turn struct {
	store *Store
	gen   uint64
}

// StartTurn appends the user message and an empty assistant placeholder and
// marks the store as loading.
func (s *Store) StartTurn(user model.Message) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return nil, ErrTurnInProgress
	}

	now := s.now()
	user.Role = model.RoleUser
	user.SuggestedTutorials = nil
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	next := make([]model.Message, len(s.messages), len(s.messages)+2)
	copy(next, s.messages)
	next = append(next, user, model.Message{Role: model.RoleAssistant, CreatedAt: now})

	s.messages = next
	s.loading = true
	s.pending = nil
	s.gen++

	return &Turn{store: s, gen: s.gen}, nil
}

// ApplyContentDelta appends text to the open assistant message and attaches
// the pending tutorial suggestions to it. It reports whether state changed.
func (t *Turn) ApplyContentDelta(text string) bool {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.openLocked() {
		return false
	}
	if text == "" && len(s.pending) == 0 {
		return false
	}

	next := make([]model.Message, len(s.messages))
	copy(next, s.messages)

	last := next[len(next)-1]
	last.Content += text
	if len(s.pending) > 0 {
		last.SuggestedTutorials = model.CloneTutorials(s.pending)
	}
	next[len(next)-1] = last

	s.messages = next
	return true
}

// SetPendingTutorials replaces the tutorial suggestions held for the open
// assistant message. They become visible with the next delta or on Finalize.
func (t *Turn) SetPendingTutorials(tutorials []model.Tutorial) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.currentLocked() {
		return
	}
	s.pending = model.CloneTutorials(tutorials)
}

// SetConversationID records the conversation id and reports whether this is
// the first id held by the session.
func (t *Turn) SetConversationID(id string) bool {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.currentLocked() || id == "" {
		return false
	}
	first := s.conversationID == ""
	s.conversationID = id
	return first
}

// Finalize ends the turn. The completed assistant message is kept; pending
// tutorials that never rode on a delta are attached now.
func (t *Turn) Finalize() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.currentLocked() {
		return
	}

	if t.openLocked() && len(s.pending) > 0 {
		n := len(s.messages)
		if len(s.messages[n-1].SuggestedTutorials) == 0 {
			next := make([]model.Message, n)
			copy(next, s.messages)
			next[n-1].SuggestedTutorials = model.CloneTutorials(s.pending)
			s.messages = next
		}
	}

	s.loading = false
	s.pending = nil
}

// Fail ends the turn with a single synthetic error message. An assistant
// placeholder that never received content is removed first.
func (t *Turn) Fail(errMsg string) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.currentLocked() {
		return
	}

	n := len(s.messages)
	next := make([]model.Message, n, n+1)
	copy(next, s.messages)
	if n > 0 && next[n-1].Role == model.RoleAssistant && next[n-1].Content == "" {
		next = next[:n-1]
	}
	next = append(next, model.Message{
		Role:      model.RoleAssistant,
		Content:   FailureMarker + " " + errMsg,
		CreatedAt: s.now(),
	})

	s.messages = next
	s.loading = false
	s.pending = nil
}

// Stale reports whether the transcript was replaced after the turn started.
func (t *Turn) Stale() bool {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return !t.currentLocked()
}

func (t *Turn) currentLocked() bool {
	return t.gen == t.store.gen && t.store.loading
}

func (t *Turn) openLocked() bool {
	s := t.store
	if !t.currentLocked() || len(s.messages) == 0 {
		return false
	}
	return s.messages[len(s.messages)-1].Role == model.RoleAssistant
}

// Clear resets the transcript, the conversation id and the selected codes.
// A turn still streaming becomes stale.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.conversationID = ""
	s.codes = nil
	s.pending = nil
	s.loading = false
	s.gen++
}

// LoadPersisted replaces the transcript with the persisted messages of
// conversationID. On error the current state is left untouched.
func (s *Store) LoadPersisted(ctx context.Context, loader ConversationLoader, conversationID string) error {
	if loader == nil {
		return ErrNoLoader
	}

	msgs, err := loader.LoadConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("load conversation %s: message %d has invalid role %q", conversationID, i, m.Role)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = model.CloneMessages(msgs)
	s.conversationID = conversationID
	s.pending = nil
	s.loading = false
	s.gen++

	return nil
}

// SelectCodes replaces the diagnostic codes sent as context with each turn.
func (s *Store) SelectCodes(codes []model.DiagnosticCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(codes) == 0 {
		s.codes = nil
		return
	}
	s.codes = append([]model.DiagnosticCode(nil), codes...)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := model.CloneMessages(s.messages)
	if msgs == nil {
		msgs = []model.Message{}
	}

	return model.Snapshot{
		ConversationID: s.conversationID,
		Messages:       msgs,
		Loading:        s.loading,
		SelectedCodes:  append([]model.DiagnosticCode(nil), s.codes...),
	}
}

// Loading reports whether a turn is in progress.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}
