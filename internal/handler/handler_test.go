package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/expert"
	"github.com/doutor-motors/expert-chat/internal/middleware"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/internal/service"
	"github.com/doutor-motors/expert-chat/pkg/logger"
)

const testSecret = "handler-test-secret"

type stubTransport struct {
	mu     sync.Mutex
	body   string
	err    error
	tokens []string
}

func (s *stubTransport) Stream(_ context.Context, _ *expert.ChatRequest, token string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type blockingTransport struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingTransport) Stream(ctx context.Context, _ *expert.ChatRequest, _ string) (io.ReadCloser, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type loaderFunc func(ctx context.Context, id string) ([]model.Message, error)

func (f loaderFunc) LoadConversation(ctx context.Context, id string) ([]model.Message, error) {
	return f(ctx, id)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testGateway struct {
	server *httptest.Server
	t      *testing.T
}

func newTestGateway(t *testing.T, transport chat.Transport, loader chat.ConversationLoader, deps map[string]Pinger) *testGateway {
	t.Helper()
	log := logger.NewNop()
	svc := service.NewSessionService(service.Config{
		Transport: transport,
		Loader:    loader,
		IdleTTL:   time.Hour,
	}, log)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Sessions:  svc,
		Health:    NewHealthHandler(deps),
		Logger:    log,
		JWTSecret: testSecret,
	}))
	t.Cleanup(srv.Close)
	return &testGateway{server: srv, t: t}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (g *testGateway) do(ctx context.Context, method, path, user string, body interface{}) *http.Response {
	g.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(g.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.server.URL+path, rd)
	require.NoError(g.t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(g.t, user))
	}
	resp, err := g.server.Client().Do(req)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (g *testGateway) createSession(user string) string {
	g.t.Helper()
	resp := g.do(context.Background(), http.MethodPost, "/api/v1/sessions", user, nil)
	require.Equal(g.t, http.StatusCreated, resp.StatusCode)

	var out CreateSessionResponse
	require.NoError(g.t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(g.t, out.ID)
	return out.ID
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestAPI_RequiresAuth(t *testing.T) {
	g := newTestGateway(t, &stubTransport{}, nil, nil)
	resp := g.do(context.Background(), http.MethodPost, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessions_OwnedByCreator(t *testing.T) {
	g := newTestGateway(t, &stubTransport{}, nil, nil)
	id := g.createSession("alice")

	resp := g.do(context.Background(), http.MethodGet, "/api/v1/sessions/"+id, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap model.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, id, snap.SessionID)
	assert.Empty(t, snap.Messages)

	resp = g.do(context.Background(), http.MethodGet, "/api/v1/sessions/"+id, "bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(context.Background(), http.MethodGet, "/api/v1/sessions/not-a-uuid", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = g.do(context.Background(), http.MethodDelete, "/api/v1/sessions/"+id, "alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = g.do(context.Background(), http.MethodGet, "/api/v1/sessions/"+id, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurn_StreamsSnapshotsNoticeAndDone(t *testing.T) {
	transport := &stubTransport{body: strings.Join([]string{
		`data: {"type":"conversation","conversationId":"c-42"}`,
		`data: {"choices":[{"delta":{"content":"Verifique "}}]}`,
		`data: {"choices":[{"delta":{"content":"a bobina."}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")}
	g := newTestGateway(t, transport, nil, nil)
	id := g.createSession("alice")

	resp := g.do(context.Background(), http.MethodPost, "/api/v1/sessions/"+id+"/turns", "alice", TurnRequest{
		Content:        "Motor falhando",
		VehicleContext: &model.VehicleContext{Brand: "Fiat", Model: "Uno", Year: "2012"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)

	var names []string
	for _, e := range events {
		names = append(names, e.name)
	}
	assert.Contains(t, names, EventNotice)
	assert.Equal(t, EventDone, names[len(names)-1])

	var last model.Snapshot
	for _, e := range events {
		if e.name == EventSnapshot {
			require.NoError(t, json.Unmarshal([]byte(e.data), &last))
		}
	}
	assert.False(t, last.Loading)
	assert.Equal(t, "c-42", last.ConversationID)
	a, ok := last.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "Verifique a bobina.", a.Content)

	var done DoneEvent
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
	assert.True(t, done.Success)
	assert.Equal(t, "c-42", done.ConversationID)

	transport.mu.Lock()
	tokens := append([]string(nil), transport.tokens...)
	transport.mu.Unlock()
	require.Len(t, tokens, 1)
	assert.NotEmpty(t, tokens[0])
}

func TestTurn_FailureSendsErrorEvent(t *testing.T) {
	g := newTestGateway(t, &stubTransport{err: &expert.StatusError{Code: http.StatusTooManyRequests}}, nil, nil)
	id := g.createSession("alice")

	resp := g.do(context.Background(), http.MethodPost, "/api/v1/sessions/"+id+"/turns", "alice", TurnRequest{Content: "oi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 2)
	errEv := events[len(events)-2]
	require.Equal(t, EventError, errEv.name)

	var payload ErrorEvent
	require.NoError(t, json.Unmarshal([]byte(errEv.data), &payload))
	assert.True(t, strings.HasPrefix(payload.Message, chat.FailureMarker))

	var done DoneEvent
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
	assert.False(t, done.Success)
}

func TestTurn_RejectsInvalidInput(t *testing.T) {
	g := newTestGateway(t, &stubTransport{}, nil, nil)
	id := g.createSession("alice")

	resp := g.do(context.Background(), http.MethodPost, "/api/v1/sessions/"+id+"/turns", "alice", TurnRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTurn_ConflictWhileBusy(t *testing.T) {
	transport := &blockingTransport{started: make(chan struct{})}
	g := newTestGateway(t, transport, nil, nil)
	id := g.createSession("alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, g.server.URL+"/api/v1/sessions/"+id+"/turns",
			strings.NewReader(`{"content":"primeira"}`))
		req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
		if resp, err := g.server.Client().Do(req); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	select {
	case <-transport.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never started")
	}

	resp := g.do(context.Background(), http.MethodPost, "/api/v1/sessions/"+id+"/turns", "alice", TurnRequest{Content: "segunda"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	cancel()
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn did not stop after cancel")
	}
}

func TestLoad_MapsLoaderErrors(t *testing.T) {
	convID := "6f1c2a9e-0d7b-4a53-9f0e-2b8e4f7c1a11"
	var mode atomic.Value
	mode.Store("")
	loader := loaderFunc(func(_ context.Context, id string) ([]model.Message, error) {
		switch mode.Load().(string) {
		case "missing":
			return nil, chat.ErrConversationNotFound
		case "down":
			return nil, errors.New("connection refused")
		}
		return []model.Message{
			{Role: model.RoleUser, Content: "Barulho na suspensão"},
			{Role: model.RoleAssistant, Content: "Verifique as buchas."},
		}, nil
	})
	g := newTestGateway(t, &stubTransport{}, loader, nil)
	id := g.createSession("alice")
	path := "/api/v1/sessions/" + id + "/load"

	mode.Store("missing")
	resp := g.do(context.Background(), http.MethodPost, path, "alice", LoadConversationRequest{ConversationID: convID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	mode.Store("down")
	resp = g.do(context.Background(), http.MethodPost, path, "alice", LoadConversationRequest{ConversationID: convID})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = g.do(context.Background(), http.MethodPost, path, "alice", LoadConversationRequest{ConversationID: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	mode.Store("")
	resp = g.do(context.Background(), http.MethodPost, path, "alice", LoadConversationRequest{ConversationID: convID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap model.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, convID, snap.ConversationID)
	assert.Len(t, snap.Messages, 2)
}

func TestSelectCodes(t *testing.T) {
	g := newTestGateway(t, &stubTransport{}, nil, nil)
	id := g.createSession("alice")
	path := "/api/v1/sessions/" + id + "/codes"

	resp := g.do(context.Background(), http.MethodPut, path, "alice", SelectCodesRequest{
		Codes: []model.DiagnosticCode{{Code: "bogus"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = g.do(context.Background(), http.MethodPut, path, "alice", SelectCodesRequest{
		Codes: []model.DiagnosticCode{{Code: "P0300", Description: "Falha de ignição aleatória", Priority: model.PriorityCritical}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap model.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.SelectedCodes, 1)
	assert.Equal(t, "P0300", snap.SelectedCodes[0].Code)
}

func TestHealth(t *testing.T) {
	g := newTestGateway(t, &stubTransport{}, nil, map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return errors.New("down") }),
	})

	resp := g.do(context.Background(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(context.Background(), http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
