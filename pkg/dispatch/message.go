package dispatch

import (
	"encoding/json"

	"github.com/beeper/webchat-bridge/pkg/bridgerpc"
)

// Message is a decoded inbound message: exactly one of LogMessage, ChatCall
// or UnknownMessage.
type Message interface {
	isMessage()
}

// LogMessage is a diagnostic line from the web chat.
type LogMessage struct {
	Line string
}

// ChatCall asks the agent to answer Text; the reply goes back under ID.
type ChatCall struct {
	ID   string
	Text string
}

// UnknownMessage is anything else. It is dropped.
type UnknownMessage struct {
	Reason string
}

func (LogMessage) isMessage()     {}
func (ChatCall) isMessage()       {}
func (UnknownMessage) isMessage() {}

// Decode classifies raw. The first matching rule wins: the reserved log ID,
// then a chat call with non-empty text, then unknown.
func Decode(raw []byte) Message {
	var in bridgerpc.InboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return UnknownMessage{Reason: "invalid json"}
	}
	if in.ID == bridgerpc.LogID {
		line := ""
		if in.Log != nil {
			line = *in.Log
		}
		return LogMessage{Line: line}
	}
	if in.Type != bridgerpc.TypeChat {
		return UnknownMessage{Reason: "unsupported type"}
	}
	if in.ID == "" {
		return UnknownMessage{Reason: "missing id"}
	}
	var payload bridgerpc.ChatPayload
	if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &payload) != nil {
		return UnknownMessage{Reason: "invalid chat payload"}
	}
	if payload.Text == "" {
		return UnknownMessage{Reason: "empty chat text"}
	}
	return ChatCall{ID: in.ID, Text: payload.Text}
}
