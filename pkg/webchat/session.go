package webchat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/beeper/webchat-bridge/pkg/bridgetransport"
)

// ErrNoScript is returned when no web chat attached before the deadline.
var ErrNoScript = errors.New("no web chat attached")

// Session is the host-side state of one chat session. At most one web chat
// is attached to it at a time.
type Session struct {
	key string

	mu    sync.Mutex
	ep    *bridgetransport.HostEndpoint
	ready chan struct{}
}

func newSession(key string) *Session {
	return &Session{key: key, ready: make(chan struct{})}
}

func (s *Session) Key() string {
	return s.key
}

// Endpoint returns the attached web chat, or nil.
func (s *Session) Endpoint() *bridgetransport.HostEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep
}

// attach makes ep the current endpoint and returns the one it replaced.
// ep must already be bootstrapped.
func (s *Session) attach(ep *bridgetransport.HostEndpoint) *bridgetransport.HostEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.ep
	s.ep = ep
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	return old
}

// detach clears ep if it is still current.
func (s *Session) detach(ep *bridgetransport.HostEndpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep != ep {
		return false
	}
	s.ep = nil
	s.ready = make(chan struct{})
	return true
}

// waitAttached blocks until a web chat is attached or ctx ends.
func (s *Session) waitAttached(ctx context.Context) (*bridgetransport.HostEndpoint, error) {
	for {
		s.mu.Lock()
		ep, ready := s.ep, s.ready
		s.mu.Unlock()
		if ep != nil {
			return ep, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoScript, ctx.Err())
		}
	}
}
