package model

// Priority classifies how urgently a diagnostic code needs attention.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityAttention  Priority = "attention"
	PriorityPreventive Priority = "preventive"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityAttention, PriorityPreventive:
		return true
	}
	return false
}

// DiagnosticCode is an OBD-II trouble code selected as chat context.
type DiagnosticCode struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Severity    string   `json:"severity"`
}

// VehicleContext describes the vehicle the user is asking about.
type VehicleContext struct {
	Brand    string `json:"brand,omitempty"`
	Model    string `json:"model,omitempty"`
	Year     string `json:"year,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Mileage  int    `json:"mileage,omitempty"`
	FuelType string `json:"fuelType,omitempty"`
}

// Snapshot is an immutable view of one chat session's state.
type Snapshot struct {
	SessionID      string           `json:"sessionId,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
	Messages       []Message        `json:"messages"`
	Loading        bool             `json:"loading"`
	SelectedCodes  []DiagnosticCode `json:"selectedCodes,omitempty"`
}

// LastAssistant returns the content of the last assistant message, if any.
func (s Snapshot) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// NoticeLevel is the severity of a user-facing notification.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible notification raised while consuming a stream.
type Notice struct {
	Level          NoticeLevel `json:"level"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
}
