package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/beeper/webchat-bridge/pkg/bridgerpc"
)

// ChatHandler produces the agent reply for a chat call.
type ChatHandler interface {
	HandleChat(ctx context.Context, sessionKey, text string) (string, error)
}

// Responder sends a finished call's response back to the web chat.
type Responder interface {
	Respond(ctx context.Context, resp bridgerpc.OutboundResponse)
}

type ResponderFunc func(ctx context.Context, resp bridgerpc.OutboundResponse)

func (fn ResponderFunc) Respond(ctx context.Context, resp bridgerpc.OutboundResponse) {
	fn(ctx, resp)
}

// Dispatcher interprets inbound messages for one session.
type Dispatcher struct {
	ctx        context.Context
	sessionKey string
	handler    ChatHandler
	responder  Responder
	log        zerolog.Logger
	scriptLog  zerolog.Logger

	wg sync.WaitGroup
}

// New creates a dispatcher. Chat calls run under ctx, so it should outlive
// the connection that delivered them.
func New(ctx context.Context, sessionKey string, handler ChatHandler, responder Responder, log zerolog.Logger) *Dispatcher {
	log = log.With().Str("session_key", sessionKey).Logger()
	return &Dispatcher{
		ctx:        ctx,
		sessionKey: sessionKey,
		handler:    handler,
		responder:  responder,
		log:        log.With().Str("component", "dispatch").Logger(),
		scriptLog:  log.With().Str("component", "script").Logger(),
	}
}

// Receive classifies raw and acts on it. It never blocks on the agent.
func (d *Dispatcher) Receive(raw []byte) {
	switch msg := Decode(raw).(type) {
	case LogMessage:
		d.scriptLog.Info().Msg(msg.Line)
	case ChatCall:
		d.wg.Add(1)
		go d.runChat(msg)
	case UnknownMessage:
		d.log.Trace().Str("reason", msg.Reason).Msg("Ignoring inbound message")
	}
}

// Wait blocks until all chat calls started by Receive have responded.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) runChat(call ChatCall) {
	defer d.wg.Done()
	log := d.log.With().Str("call_id", call.ID).Logger()
	ctx := log.WithContext(d.ctx)
	log.Debug().Int("text_len", len(call.Text)).Msg("Dispatching chat call")
	text, err := d.handleChat(ctx, call.Text)
	if err != nil {
		log.Warn().Err(err).Msg("Chat call failed")
	}
	d.responder.Respond(ctx, bridgerpc.NewResponse(call.ID, text, err))
}

func (d *Dispatcher) handleChat(ctx context.Context, text string) (reply string, err error) {
	defer func() {
		if p := recover(); p != nil {
			reply, err = "", fmt.Errorf("chat handler panicked: %v", p)
		}
	}()
	return d.handler.HandleChat(ctx, d.sessionKey, text)
}
