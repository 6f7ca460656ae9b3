package transcript

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

const DefaultStoreFile = "sessions.json"

// SessionStore resolves logical session keys to transcript session IDs.
// It is read-only: the agent process owns the file.
type SessionStore struct {
	backend StoreBackend
	key     string
	log     zerolog.Logger
}

func NewSessionStore(backend StoreBackend, storeKey string, log zerolog.Logger) *SessionStore {
	if strings.TrimSpace(storeKey) == "" {
		storeKey = DefaultStoreFile
	}
	return &SessionStore{backend: backend, key: storeKey, log: log}
}

// Resolve looks up sessionKey. A missing, unreadable or malformed store is
// reported as not found.
func (s *SessionStore) Resolve(ctx context.Context, sessionKey string) (SessionRecord, bool) {
	if s == nil || s.backend == nil || strings.TrimSpace(sessionKey) == "" {
		return SessionRecord{}, false
	}
	data, ok, err := s.backend.Read(ctx, s.key)
	if err != nil {
		s.log.Warn().Err(err).Str("store", s.key).Msg("Failed to read session store")
		return SessionRecord{}, false
	} else if !ok {
		return SessionRecord{}, false
	}
	var parsed map[string]any
	if err := json5.Unmarshal(data, &parsed); err != nil {
		s.log.Warn().Err(err).Str("store", s.key).Msg("Session store is malformed")
		return SessionRecord{}, false
	}
	entry, ok := lookupSessionEntry(parsed, sessionKey)
	if !ok {
		return SessionRecord{}, false
	}
	rec := SessionRecord{}
	rec.SessionID, _ = entry["sessionId"].(string)
	if updatedAt, ok := entry["updatedAt"].(float64); ok {
		rec.UpdatedAt = int64(updatedAt)
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return SessionRecord{}, false
	}
	return rec, true
}

// lookupSessionEntry supports both the flat {key: entry} layout and the
// wrapped {"sessions": {key: entry}} layout.
func lookupSessionEntry(store map[string]any, sessionKey string) (map[string]any, bool) {
	if entry, ok := store[sessionKey].(map[string]any); ok {
		return entry, true
	}
	if nested, ok := store["sessions"].(map[string]any); ok {
		if entry, ok := nested[sessionKey].(map[string]any); ok {
			return entry, true
		}
	}
	return nil, false
}
