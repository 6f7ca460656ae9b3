package transcript

import (
	"encoding/json"
	"errors"
)

// Roles accepted in a reconstructed transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentBlock is a single piece of message content. Type and Text are
// filled when the block carries them as strings. A block decoded from a
// transcript keeps every field it was read with and marshals back unchanged.
type ContentBlock struct {
	Type string
	Text string

	raw json.RawMessage
}

type plainContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return errors.New("content block must be a JSON object")
	}
	*b = ContentBlock{raw: append(json.RawMessage(nil), data...)}
	// Non-string type or text values stay in raw only.
	_ = json.Unmarshal(fields["type"], &b.Type)
	_ = json.Unmarshal(fields["text"], &b.Text)
	return nil
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}
	return json.Marshal(plainContentBlock{Type: b.Type, Text: b.Text})
}

// ChatMessage is the message shape the web chat expects for prior history.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// SessionRecord is one entry of the session store. Only the fields the
// bridge reads are modelled.
type SessionRecord struct {
	SessionID string `json:"sessionId"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Bootstrap is delivered once to a freshly attached web chat.
type Bootstrap struct {
	SessionKey      string        `json:"sessionKey"`
	InitialMessages []ChatMessage `json:"initialMessages"`
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// TextMessage builds a single-block text message.
func TextMessage(role, text string) ChatMessage {
	return ChatMessage{
		Role:    role,
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}
