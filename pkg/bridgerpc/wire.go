package bridgerpc

import "encoding/json"

// LogID marks an inbound message as a diagnostic line. Log lines are never
// answered.
const LogID = "log"

// TypeChat is the only structured call type the host understands.
const TypeChat = "chat"

// Entry points the host can invoke in the web chat. Each host to script frame
// targets exactly one of them with a single argument.
const (
	EntryBootstrap = "bootstrap"
	EntryReceive   = "receive"
	EntryEnqueue   = "enqueue"
)

// InboundMessage is sent by the web chat to the host.
type InboundMessage struct {
	ID      string          `json:"id"`
	Log     *string         `json:"log,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

type ChatResult struct {
	Text string `json:"text"`
}

// OutboundResponse answers exactly one chat call. Error is serialized as null
// on success.
type OutboundResponse struct {
	ID     string     `json:"id"`
	OK     bool       `json:"ok"`
	Result ChatResult `json:"result"`
	Error  *string    `json:"error"`
}

// NewResponse builds the response for a finished call.
func NewResponse(id, text string, err error) OutboundResponse {
	resp := OutboundResponse{
		ID:     id,
		OK:     err == nil,
		Result: ChatResult{Text: text},
	}
	if err != nil {
		msg := err.Error()
		resp.Error = &msg
	}
	return resp
}

// Envelope is one host to script frame.
type Envelope struct {
	Call string          `json:"call"`
	Arg  json.RawMessage `json:"arg"`
}

// EnqueuePayload asks the web chat to send a message through its own queue.
type EnqueuePayload struct {
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}
