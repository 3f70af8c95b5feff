package expert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doutor-motors/expert-chat/internal/model"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestStream_SendsAuthenticatedRequest(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, APIKey: "anon-key"})
	require.NoError(t, err)

	body, err := client.Stream(context.Background(), &ChatRequest{
		Messages:       []ChatMessage{{Role: model.RoleUser, Content: "Meu carro falha na partida"}},
		VehicleContext: &model.VehicleContext{Brand: "Fiat", Model: "Uno", Year: "2015"},
		ObdCodes:       []model.DiagnosticCode{{Code: "P0300", Priority: model.PriorityCritical}},
		DocumentName:   "manual.pdf",
	}, "token-123")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n", string(data))

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Meu carro falha na partida", got.Messages[0].Content)
	assert.Nil(t, got.ConversationID)
	assert.Equal(t, "Fiat", got.VehicleContext.Brand)
	assert.Equal(t, "P0300", got.ObdCodes[0].Code)
	assert.Equal(t, "manual.pdf", got.DocumentName)
}

func TestStream_NullConversationIDOnWire(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	body, err := client.Stream(context.Background(), &ChatRequest{}, "tok")
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "null", string(raw["conversationId"]))
	assert.NotContains(t, raw, "documentName")
}

func TestStream_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), &ChatRequest{}, "tok")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, `{"error":"boom"}`, statusErr.Body)
}

func TestStream_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), &ChatRequest{}, "tok")
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestStream_MissingToken(t *testing.T) {
	client, err := NewClient(Config{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), &ChatRequest{}, "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestStream_ContextCancelAbortsRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ": open\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	body, err := client.Stream(ctx, &ChatRequest{}, "tok")
	require.NoError(t, err)
	defer body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(body)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after cancel")
	}
}
