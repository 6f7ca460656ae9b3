package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// Loader rebuilds the chat history of a session from its JSONL transcript.
// Every call re-reads the backend; nothing is cached.
type Loader struct {
	backend StoreBackend
	store   *SessionStore
	log     zerolog.Logger
}

func NewLoader(backend StoreBackend, storeKey string, log zerolog.Logger) *Loader {
	log = log.With().Str("component", "transcript").Logger()
	return &Loader{
		backend: backend,
		store:   NewSessionStore(backend, storeKey, log),
		log:     log,
	}
}

// Load returns the messages recorded for sessionKey in file order. Any
// missing piece (store entry, transcript file) yields an empty history.
func (l *Loader) Load(ctx context.Context, sessionKey string) []ChatMessage {
	if l == nil {
		return []ChatMessage{}
	}
	rec, ok := l.store.Resolve(ctx, sessionKey)
	if !ok {
		return []ChatMessage{}
	}
	key, ok := transcriptKey(rec.SessionID)
	if !ok {
		l.log.Warn().Str("session_id", rec.SessionID).Msg("Refusing to load transcript with unsafe session ID")
		return []ChatMessage{}
	}
	data, found, err := l.backend.Read(ctx, key)
	if err != nil {
		l.log.Warn().Err(err).Str("transcript", key).Msg("Failed to read transcript")
		return []ChatMessage{}
	} else if !found {
		return []ChatMessage{}
	}
	messages := ParseTranscript(data)
	l.log.Debug().
		Str("session_key", sessionKey).
		Str("session_id", rec.SessionID).
		Int("messages", len(messages)).
		Msg("Loaded transcript")
	return messages
}

// Bootstrap builds the payload handed to a web chat when it attaches.
func (l *Loader) Bootstrap(ctx context.Context, sessionKey string) Bootstrap {
	return Bootstrap{
		SessionKey:      sessionKey,
		InitialMessages: l.Load(ctx, sessionKey),
	}
}

func transcriptKey(sessionID string) (string, bool) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) || path.Base(sessionID) != sessionID {
		return "", false
	}
	return sessionID + ".jsonl", true
}

// ParseTranscript filters a newline-delimited JSON log into chat messages.
// Lines that are not JSON, carry an unknown role or have no usable content
// are skipped. Order is preserved.
func ParseTranscript(data []byte) []ChatMessage {
	messages := make([]ChatMessage, 0)
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if msg, ok := parseRecord(line); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

type recordBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Text    *string         `json:"text"`
}

func parseRecord(line []byte) (ChatMessage, bool) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(line, &record); err != nil {
		return ChatMessage{}, false
	}
	bodyRaw := json.RawMessage(line)
	if nested, ok := record["message"]; ok && isJSONObject(nested) {
		bodyRaw = nested
	}
	var body recordBody
	if err := json.Unmarshal(bodyRaw, &body); err != nil {
		return ChatMessage{}, false
	}
	if !validRole(body.Role) {
		return ChatMessage{}, false
	}
	content, ok := body.content()
	if !ok {
		return ChatMessage{}, false
	}
	return ChatMessage{Role: body.Role, Content: content}, true
}

func (b *recordBody) content() ([]ContentBlock, bool) {
	if len(b.Content) > 0 && !bytes.Equal(b.Content, []byte("null")) {
		var items []json.RawMessage
		if err := json.Unmarshal(b.Content, &items); err == nil {
			blocks := make([]ContentBlock, 0, len(items))
			for _, item := range items {
				var block ContentBlock
				if isJSONObject(item) && json.Unmarshal(item, &block) == nil {
					blocks = append(blocks, block)
				}
			}
			return blocks, true
		}
		var text string
		if err := json.Unmarshal(b.Content, &text); err == nil {
			return []ContentBlock{{Type: "text", Text: text}}, true
		}
	}
	if b.Text != nil {
		return []ContentBlock{{Type: "text", Text: *b.Text}}, true
	}
	return nil, false
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
