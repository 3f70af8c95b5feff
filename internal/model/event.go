package model

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// EventKind identifies the variant of a decoded stream event.
type EventKind string

const (
	EventKindTutorials    EventKind = "tutorials"
	EventKindConversation EventKind = "conversation"
	EventKindContentDelta EventKind = "content_delta"
	EventKindUnknown      EventKind = "unknown"
)

// StreamEvent is one decoded payload of the expert chat stream. The set of
// implementations is closed: TutorialsEvent, ConversationEvent,
// ContentDeltaEvent and UnknownEvent.
type StreamEvent interface {
	Kind() EventKind
	isStreamEvent()
}

// TutorialsEvent replaces the pending tutorial suggestions.
type TutorialsEvent struct {
	Tutorials []Tutorial
}

// ConversationEvent announces the persisted conversation id.
type ConversationEvent struct {
	ConversationID string
}

// ContentDeltaEvent carries an incremental fragment of assistant text.
type ContentDeltaEvent struct {
	Content      string
	FinishReason string
}

// UnknownEvent is a well-formed payload that matches no known shape.
type UnknownEvent struct {
	Type   string
	Raw    json.RawMessage
	Reason string
}

func (TutorialsEvent) Kind() EventKind    { return EventKindTutorials }
func (ConversationEvent) Kind() EventKind { return EventKindConversation }
func (ContentDeltaEvent) Kind() EventKind { return EventKindContentDelta }
func (UnknownEvent) Kind() EventKind      { return EventKindUnknown }

func (TutorialsEvent) isStreamEvent()    {}
func (ConversationEvent) isStreamEvent() {}
func (ContentDeltaEvent) isStreamEvent() {}
func (UnknownEvent) isStreamEvent()      {}

// envelope holds the discriminating fields of every payload shape.
type envelope struct {
	Type           string          `json:"type"`
	Tutorials      json.RawMessage `json:"tutorials"`
	ConversationID string          `json:"conversationId"`
	Choices        json.RawMessage `json:"choices"`
}

// DecodeStreamEvent decodes a JSON payload into its event variant.
//
// Shapes are tried in order: tutorials, conversation, content delta. A
// payload whose type names a shape it does not satisfy still falls through
// to the next one. Anything left yields an UnknownEvent rather than an
// error; an error is only returned when payload is not JSON at all.
func DecodeStreamEvent(payload []byte) (StreamEvent, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("invalid JSON payload")
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return unknown("", payload, "payload is not an object"), nil
	}

	reason := "no recognized fields"

	if env.Type == "tutorials" {
		var tutorials []Tutorial
		switch {
		case isNull(env.Tutorials):
			reason = "tutorials field missing"
		case json.Unmarshal(env.Tutorials, &tutorials) != nil:
			reason = "tutorials field malformed"
		default:
			return TutorialsEvent{Tutorials: tutorials}, nil
		}
	}

	if env.Type == "conversation" {
		if env.ConversationID != "" {
			return ConversationEvent{ConversationID: env.ConversationID}, nil
		}
		reason = "conversationId missing"
	}

	if !isNull(env.Choices) {
		var chunk openai.ChatCompletionStreamResponse
		switch {
		case json.Unmarshal(payload, &chunk) != nil:
			reason = "choices malformed"
		case len(chunk.Choices) == 0:
			reason = "choices empty"
		default:
			choice := chunk.Choices[0]
			return ContentDeltaEvent{
				Content:      choice.Delta.Content,
				FinishReason: string(choice.FinishReason),
			}, nil
		}
	} else if env.Type != "" && env.Type != "tutorials" && env.Type != "conversation" {
		reason = "unrecognized type"
	}

	return unknown(env.Type, payload, reason), nil
}

func unknown(typ string, payload []byte, reason string) UnknownEvent {
	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)
	return UnknownEvent{Type: typ, Raw: raw, Reason: reason}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
