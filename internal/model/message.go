// Package model defines data structures for the expert chat consumer.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the chat endpoint accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents one turn side in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Attachments (user messages only)
	ImageBase64  string `json:"imageBase64,omitempty"`
	DocumentName string `json:"documentName,omitempty"`
	DocumentURL  string `json:"documentUrl,omitempty"`

	// Assistant messages only
	SuggestedTutorials []Tutorial `json:"suggestedTutorials,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a copy of m that shares no mutable state with it.
func (m Message) Clone() Message {
	m.SuggestedTutorials = CloneTutorials(m.SuggestedTutorials)
	return m
}

// Tutorial is a suggested external reference attached to an assistant reply.
type Tutorial struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Brand     string `json:"brand,omitempty"`
	Model     string `json:"model,omitempty"`
	Category  string `json:"category,omitempty"`
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Slug      string `json:"slug,omitempty"`
}

// CloneTutorials copies a tutorial list. A nil or empty list stays nil.
func CloneTutorials(in []Tutorial) []Tutorial {
	if len(in) == 0 {
		return nil
	}
	out := make([]Tutorial, len(in))
	copy(out, in)
	return out
}

// CloneMessages deep-copies a message list.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
