package webchat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/beeper/webchat-bridge/pkg/agentexec"
	"github.com/beeper/webchat-bridge/pkg/bridgerpc"
	"github.com/beeper/webchat-bridge/pkg/bridgetransport"
	"github.com/beeper/webchat-bridge/pkg/bridgeutil"
	"github.com/beeper/webchat-bridge/pkg/dispatch"
	"github.com/beeper/webchat-bridge/pkg/transcript"
)

const DefaultSessionKey = "main"

// ErrShuttingDown is returned by Serve once the manager has been closed.
var ErrShuttingDown = errors.New("web chat host is shutting down")

// TranscriptSource builds the bootstrap payload for an attaching web chat.
type TranscriptSource interface {
	Bootstrap(ctx context.Context, sessionKey string) transcript.Bootstrap
}

type Options struct {
	Transcripts TranscriptSource
	Handler     dispatch.ChatHandler
	Busy        *agentexec.BusyState
	Presenter   Presenter
	// DefaultSessionKey is used when a caller names no session.
	DefaultSessionKey string
	Log               zerolog.Logger
}

// Manager owns every session of the host process.
type Manager struct {
	ctx        context.Context
	opts       Options
	defaultKey string
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	inflight sync.WaitGroup
}

// SessionInfo is a snapshot of one session for status reporting.
type SessionInfo struct {
	Key        string `json:"key"`
	Attached   bool   `json:"attached"`
	EndpointID string `json:"endpoint_id,omitempty"`
	State      string `json:"state,omitempty"`
}

// NewManager creates a manager. Agent calls run under ctx, so cancelling it
// is what stops them.
func NewManager(ctx context.Context, opts Options) *Manager {
	log := opts.Log.With().Str("component", "webchat").Logger()
	if opts.Presenter == nil {
		opts.Presenter = LogPresenter{Log: log}
	}
	if opts.Busy == nil {
		opts.Busy = agentexec.NewBusyState()
	}
	defaultKey := strings.TrimSpace(opts.DefaultSessionKey)
	if defaultKey == "" {
		defaultKey = DefaultSessionKey
	}
	return &Manager{
		ctx:        ctx,
		opts:       opts,
		defaultKey: defaultKey,
		log:        log,
		sessions:   make(map[string]*Session),
	}
}

func (m *Manager) Busy() *agentexec.BusyState {
	return m.opts.Busy
}

// Ensure returns the session for key, creating it if needed. An empty key
// means the default session.
func (m *Manager) Ensure(key string) *Session {
	key = m.normalizeKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		sess = newSession(key)
		m.sessions[key] = sess
	}
	return sess
}

// Sessions lists known sessions sorted by key.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(all))
	for _, sess := range all {
		info := SessionInfo{Key: sess.Key()}
		if ep := sess.Endpoint(); ep != nil {
			info.Attached = true
			info.EndpointID = ep.ID()
			info.State = ep.State().String()
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return infos
}

// Serve runs an attached web chat until it disconnects. The web chat gets
// its bootstrap first and only then becomes the session's endpoint,
// replacing any previous one.
func (m *Manager) Serve(ctx context.Context, sessionKey string, ep *bridgetransport.HostEndpoint) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ep.Close("host shutting down")
		return ErrShuttingDown
	}
	// Added under mu so it is ordered before any Wait that follows Close.
	m.inflight.Add(1)
	m.mu.Unlock()

	sess := m.Ensure(sessionKey)
	log := m.log.With().Str("session_key", sess.Key()).Str("endpoint_id", ep.ID()).Logger()

	var boot transcript.Bootstrap
	if m.opts.Transcripts != nil {
		boot = m.opts.Transcripts.Bootstrap(ctx, sess.Key())
	} else {
		boot = transcript.Bootstrap{SessionKey: sess.Key(), InitialMessages: []transcript.ChatMessage{}}
	}
	if err := ep.Deliver(ctx, bridgerpc.EntryBootstrap, boot); err != nil {
		ep.Close("bootstrap failed")
		m.inflight.Done()
		return fmt.Errorf("failed to deliver bootstrap: %w", err)
	}
	ep.MarkReady()
	if old := sess.attach(ep); old != nil && old != ep {
		log.Debug().Str("old_endpoint_id", old.ID()).Msg("Replacing attached web chat")
		old.Close("replaced by a newer web chat")
	}
	log.Info().Int("initial_messages", len(boot.InitialMessages)).Msg("Web chat attached")

	d := dispatch.New(m.ctx, sess.Key(), m.opts.Handler, m.responder(sess), m.log)
	err := ep.Serve(ctx, d.Receive)
	if sess.detach(ep) {
		log.Info().Msg("Web chat detached")
	}
	// Calls still running answer whichever web chat attaches next.
	go func() {
		defer m.inflight.Done()
		d.Wait()
	}()
	return err
}

func (m *Manager) responder(sess *Session) dispatch.Responder {
	return dispatch.ResponderFunc(func(ctx context.Context, resp bridgerpc.OutboundResponse) {
		ep := sess.Endpoint()
		if ep == nil {
			bridgeutil.LoggerFromContext(ctx, &m.log).Debug().
				Str("session_key", sess.Key()).
				Str("call_id", resp.ID).
				Msg("Dropping response, no web chat attached")
			return
		}
		ep.DeliverToScript(ctx, bridgerpc.EntryReceive, resp)
	})
}

// Enqueue asks the session's web chat to send text through its own message
// queue, as if the user had typed it. The session is created and presented
// if needed. It returns nil once the request was written to the web chat.
func (m *Manager) Enqueue(ctx context.Context, text, thinking, sessionKey string) error {
	sess := m.Ensure(sessionKey)
	if err := m.opts.Presenter.Show(ctx, sess.Key()); err != nil {
		return fmt.Errorf("failed to present web chat: %w", err)
	}
	ep, err := sess.waitAttached(ctx)
	if err != nil {
		return err
	}
	err = ep.Deliver(ctx, bridgerpc.EntryEnqueue, bridgerpc.EnqueuePayload{Text: text, Thinking: thinking})
	if err != nil {
		return fmt.Errorf("failed to deliver enqueue request: %w", err)
	}
	m.log.Debug().Str("session_key", sess.Key()).Int("text_len", len(text)).Msg("Enqueued message")
	return nil
}

// EnqueueAsync runs Enqueue in the background. The channel receives exactly
// one value.
func (m *Manager) EnqueueAsync(ctx context.Context, text, thinking, sessionKey string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- m.Enqueue(ctx, text, thinking, sessionKey)
	}()
	return ch
}

// Close disconnects every attached web chat and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.Unlock()
	for _, sess := range all {
		sess.Endpoint().Close("host shutting down")
	}
}

// Wait blocks until every web chat has disconnected and its chat calls have
// been answered. Call it after Close.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return m.defaultKey
	}
	return key
}
