package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/expert"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/internal/sse"
	"github.com/doutor-motors/expert-chat/pkg/logger"
	"github.com/doutor-motors/expert-chat/pkg/metrics"
	"github.com/doutor-motors/expert-chat/pkg/tracing"
)

const defaultReadBufferSize = 4096

// Transport opens the streamed response of the expert chat endpoint.
type Transport interface {
	Stream(ctx context.Context, req *expert.ChatRequest, accessToken string) (io.ReadCloser, error)
}

// Archiver mirrors finished turns to secondary storage.
type Archiver interface {
	ArchiveTurn(ctx context.Context, conversationID string, msgs []model.Message) error
}

// Options configures a Session.
type Options struct {
	Transport Transport
	Loader    ConversationLoader
	Archiver  Archiver
	Notifier  Notifier

	// OnConversationCreated fires once per session, when the endpoint first
	// reports the id the conversation was persisted under.
	OnConversationCreated func(conversationID string)

	Logger         *logger.Logger
	MaxLineBytes   int
	ReadBufferSize int
}

// TurnInput is what the user submits for one turn.
type TurnInput struct {
	Content      string
	ImageBase64  string
	DocumentName string
	DocumentURL  string
	Vehicle      *model.VehicleContext
	AccessToken  string
}

// Hooks observe one turn as it streams.
type Hooks struct {
	OnSnapshot func(model.Snapshot)
	OnNotice   func(model.Notice)
}

// Session is one chat panel: a state store plus the orchestration that
// streams turns into it.
type Session struct {
	id    string
	store *Store
	opts  Options
	log   *logger.Logger

	mu     sync.Mutex
	active map[*Turn]context.CancelFunc
}

// NewSession creates a session.
func NewSession(id string, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}

	return &Session{
		id:    id,
		store: NewStore(),
		opts:  opts,
		log:   log.With(zap.String("session_id", id)),

		active: make(map[*Turn]context.CancelFunc),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() model.Snapshot {
	snap := s.store.Snapshot()
	snap.SessionID = s.id
	return snap
}

// SelectCodes replaces the diagnostic codes sent with the next turns.
func (s *Session) SelectCodes(codes []model.DiagnosticCode) {
	s.store.SelectCodes(codes)
}

// Clear starts a new chat, abandoning any turn in flight.
func (s *Session) Clear() {
	s.store.Clear()
	s.abortStale()
}

// LoadPersisted replaces the transcript with a persisted conversation. On
// failure the session is unchanged.
func (s *Session) LoadPersisted(ctx context.Context, conversationID string) error {
	if err := s.store.LoadPersisted(ctx, s.opts.Loader, conversationID); err != nil {
		s.log.Warn("failed to load conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return err
	}
	s.abortStale()
	return nil
}

// Close abandons any turn in flight.
func (s *Session) Close() {
	s.mu.Lock()
	active := s.active
	s.active = make(map[*Turn]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range active {
		cancel()
	}
}

// Send runs one turn to completion. Failures are folded into the transcript
// as a single error message before Send returns them; the returned error is
// for logging only. ErrTurnInProgress is returned without touching state.
func (s *Session) Send(ctx context.Context, in TurnInput, hooks Hooks) error {
	turn, err := s.store.StartTurn(model.Message{
		Content:      in.Content,
		ImageBase64:  in.ImageBase64,
		DocumentName: in.DocumentName,
		DocumentURL:  in.DocumentURL,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.register(turn, cancel)
	defer func() {
		s.unregister(turn)
		cancel()
	}()

	ctx, span := tracing.Tracer().Start(ctx, "chat.turn")
	span.SetAttributes(attribute.String("chat.session_id", s.id))
	defer span.End()

	start := time.Now()
	s.emit(hooks)

	err = s.consume(ctx, turn, in, hooks)
	snap := s.Snapshot()
	span.SetAttributes(attribute.String("chat.conversation_id", snap.ConversationID))

	if err != nil {
		turn.Fail(failureMessage(err))
		s.emit(hooks)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordTurn("failed", time.Since(start).Seconds())
		s.log.Error("turn failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}

	turn.Finalize()
	s.emit(hooks)
	metrics.RecordTurn("success", time.Since(start).Seconds())
	s.log.Info("turn complete",
		zap.String("conversation_id", snap.ConversationID),
		zap.Duration("duration", time.Since(start)),
	)

	s.archive(ctx, turn)
	return nil
}

func (s *Session) consume(ctx context.Context, turn *Turn, in TurnInput, hooks Hooks) error {
	if s.opts.Transport == nil {
		return errors.New("chat: no transport configured")
	}
	if turn.Stale() {
		return nil
	}

	body, err := s.opts.Transport.Stream(ctx, s.buildRequest(in), in.AccessToken)
	if err != nil {
		return err
	}
	defer body.Close()

	var parserOpts []sse.Option
	if s.opts.MaxLineBytes > 0 {
		parserOpts = append(parserOpts, sse.WithMaxLineBytes(s.opts.MaxLineBytes))
	}
	parser := sse.NewParser(parserOpts...)

	d := &Dispatcher{
		turn:      turn,
		notifier:  s.opts.Notifier,
		onCreated: s.opts.OnConversationCreated,
		onNotice:  hooks.OnNotice,
		logger:    s.log,
	}

	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if turn.Stale() {
			return nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			frames, feedErr := parser.Feed(buf[:n])
			if s.apply(ctx, d, frames) {
				s.emit(hooks)
			}
			if feedErr != nil {
				return feedErr
			}
			if parser.Done() {
				return nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			if s.apply(ctx, d, parser.Flush()) {
				s.emit(hooks)
			}
			return nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

func (s *Session) apply(ctx context.Context, d *Dispatcher, frames []sse.Frame) bool {
	changed := false
	for _, f := range frames {
		metrics.RecordFrame(f.Kind.String())

		switch f.Kind {
		case sse.FramePayload:
			ev, err := model.DecodeStreamEvent(f.Data)
			if err != nil {
				s.log.Warn("dropping undecodable payload", zap.Error(err))
				continue
			}
			if d.Dispatch(ctx, ev) {
				changed = true
			}
		case sse.FrameMalformed:
			s.log.Warn("dropping malformed stream payload", zap.Int("bytes", len(f.Data)))
		}
	}
	return changed
}

// buildRequest assembles the request from the transcript preceding the open
// assistant placeholder. Earlier failure messages are not sent.
func (s *Session) buildRequest(in TurnInput) *expert.ChatRequest {
	snap := s.store.Snapshot()

	history := snap.Messages
	if n := len(history); n > 0 && history[n-1].Role == model.RoleAssistant {
		history = history[:n-1]
	}

	msgs := make([]expert.ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role == model.RoleAssistant && (m.Content == "" || strings.HasPrefix(m.Content, FailureMarker)) {
			continue
		}
		msgs = append(msgs, expert.ChatMessage{
			Role:        m.Role,
			Content:     m.Content,
			ImageBase64: m.ImageBase64,
		})
	}

	req := &expert.ChatRequest{
		Messages:       msgs,
		VehicleContext: in.Vehicle,
		ObdCodes:       snap.SelectedCodes,
		DocumentName:   in.DocumentName,
	}
	if req.ObdCodes == nil {
		req.ObdCodes = []model.DiagnosticCode{}
	}
	if snap.ConversationID != "" {
		id := snap.ConversationID
		req.ConversationID = &id
	}
	return req
}

func (s *Session) archive(ctx context.Context, turn *Turn) {
	if s.opts.Archiver == nil || turn.Stale() {
		return
	}

	snap := s.store.Snapshot()
	if snap.ConversationID == "" || len(snap.Messages) < 2 {
		return
	}

	last := snap.Messages[len(snap.Messages)-2:]
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.opts.Archiver.ArchiveTurn(ctx, snap.ConversationID, last); err != nil {
		s.log.Warn("failed to archive turn",
			zap.String("conversation_id", snap.ConversationID),
			zap.Error(err),
		)
	}
}

func (s *Session) emit(hooks Hooks) {
	if hooks.OnSnapshot != nil {
		hooks.OnSnapshot(s.Snapshot())
	}
}

// register must run before the turn opens its stream, so that a Clear racing
// with StartTurn either sees the turn here or leaves it stale for consume.
func (s *Session) register(turn *Turn, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[turn] = cancel
	s.mu.Unlock()
}

func (s *Session) unregister(turn *Turn) {
	s.mu.Lock()
	delete(s.active, turn)
	s.mu.Unlock()
}

// abortStale cancels turns whose transcript was replaced. Turns started
// after the replacement keep running.
func (s *Session) abortStale() {
	var stale []context.CancelFunc
	s.mu.Lock()
	for turn, cancel := range s.active {
		if turn.Stale() {
			stale = append(stale, cancel)
			delete(s.active, turn)
		}
	}
	s.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}
}

// failureMessage turns a turn error into the text shown to the user.
func failureMessage(err error) string {
	var statusErr *expert.StatusError
	switch {
	case errors.As(err, &statusErr):
		switch statusErr.Code {
		case http.StatusTooManyRequests:
			return "Muitas solicitações. Aguarde alguns instantes e tente novamente."
		case http.StatusPaymentRequired:
			return "Créditos insuficientes para o assistente. Verifique seu plano."
		case http.StatusUnauthorized, http.StatusForbidden:
			return "Sua sessão expirou. Entre novamente para continuar."
		}
		return fmt.Sprintf("Não foi possível obter resposta do especialista (HTTP %d).", statusErr.Code)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Resposta interrompida."
	case errors.Is(err, sse.ErrLineTooLong):
		return "Resposta inválida recebida do especialista."
	case errors.Is(err, expert.ErrMissingToken):
		return "Você precisa estar autenticado para usar o chat."
	}
	return "Erro ao processar sua mensagem. Tente novamente."
}
