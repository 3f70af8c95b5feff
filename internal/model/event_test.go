package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStreamEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    StreamEvent
	}{
		{
			name:    "content delta",
			payload: `{"choices":[{"delta":{"content":"hi"}}]}`,
			want:    ContentDeltaEvent{Content: "hi"},
		},
		{
			name:    "content delta with finish reason",
			payload: `{"id":"c1","created":1700000000,"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			want:    ContentDeltaEvent{FinishReason: "stop"},
		},
		{
			name:    "conversation",
			payload: `{"type":"conversation","conversationId":"abc"}`,
			want:    ConversationEvent{ConversationID: "abc"},
		},
		{
			name:    "tutorials",
			payload: `{"type":"tutorials","tutorials":[{"id":"t1","name":"Trocar sonda lambda","brand":"Fiat","slug":"sonda-lambda"}]}`,
			want: TutorialsEvent{Tutorials: []Tutorial{
				{ID: "t1", Name: "Trocar sonda lambda", Brand: "Fiat", Slug: "sonda-lambda"},
			}},
		},
		{
			name:    "empty tutorials list",
			payload: `{"type":"tutorials","tutorials":[]}`,
			want:    TutorialsEvent{Tutorials: []Tutorial{}},
		},
		{
			name:    "foreign type with delta",
			payload: `{"type":"chunk","choices":[{"delta":{"content":"oi"}}]}`,
			want:    ContentDeltaEvent{Content: "oi"},
		},
		{
			name:    "conversation without id falls through to delta",
			payload: `{"type":"conversation","choices":[{"delta":{"content":"x"}}]}`,
			want:    ContentDeltaEvent{Content: "x"},
		},
		{
			name:    "tutorials without list falls through to delta",
			payload: `{"type":"tutorials","choices":[{"delta":{"content":"y"}}]}`,
			want:    ContentDeltaEvent{Content: "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStreamEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStreamEvent_Unknown(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"unrecognized type", `{"type":"usage","tokens":12}`, "unrecognized type"},
		{"conversation without id", `{"type":"conversation"}`, "conversationId missing"},
		{"tutorials without list", `{"type":"tutorials"}`, "tutorials field missing"},
		{"tutorials not a list", `{"type":"tutorials","tutorials":"x"}`, "tutorials field malformed"},
		{"no fields", `{"foo":1}`, "no recognized fields"},
		{"empty choices", `{"choices":[]}`, "choices empty"},
		{"array payload", `[1,2,3]`, "payload is not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStreamEvent([]byte(tt.payload))
			require.NoError(t, err)
			ev, ok := got.(UnknownEvent)
			require.True(t, ok, "expected UnknownEvent, got %T", got)
			assert.Equal(t, tt.reason, ev.Reason)
			assert.JSONEq(t, tt.payload, string(ev.Raw))
			assert.Equal(t, EventKindUnknown, ev.Kind())
		})
	}
}

func TestDecodeStreamEvent_InvalidJSON(t *testing.T) {
	_, err := DecodeStreamEvent([]byte(`{"choices":[{"delta":`))
	assert.Error(t, err)
}

func TestSnapshotLastAssistant(t *testing.T) {
	s := Snapshot{Messages: []Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	}}

	msg, ok := s.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "a1", msg.Content)

	_, ok = Snapshot{}.LastAssistant()
	assert.False(t, ok)
}

func TestMessageCloneIsIndependent(t *testing.T) {
	orig := Message{Role: RoleAssistant, SuggestedTutorials: []Tutorial{{ID: "t1"}}}
	clone := orig.Clone()
	clone.SuggestedTutorials[0].ID = "changed"

	assert.Equal(t, "t1", orig.SuggestedTutorials[0].ID)
}
