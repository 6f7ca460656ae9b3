package bridgerpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/beeper/webchat-bridge/pkg/transcript"
)

var ErrEmptyText = errors.New("chat text is empty")

// Sender is the one-way script to host primitive.
type Sender interface {
	SendToHost(ctx context.Context, msg any) error
}

// CallError is a failure reported by the host for a chat call.
type CallError struct {
	ID      string
	Message string
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("call %s failed", e.ID)
	}
	return e.Message
}

// Client is the script side of the bridge: it issues chat calls to the host
// and matches responses back to them by ID.
type Client struct {
	sender Sender
	reg    *Registry
	log    zerolog.Logger

	hookMu      sync.RWMutex
	onBootstrap func(transcript.Bootstrap)
	onEnqueue   func(EnqueuePayload)

	bootOnce sync.Once
	booted   chan struct{}
	boot     transcript.Bootstrap
}

func NewClient(sender Sender, log zerolog.Logger) *Client {
	return &Client{
		sender: sender,
		reg:    NewRegistry(),
		log:    log.With().Str("component", "bridge_client").Logger(),
		booted: make(chan struct{}),
	}
}

func (c *Client) Registry() *Registry {
	return c.reg
}

// OnBootstrap registers fn to be called when the host delivers the initial
// session state.
func (c *Client) OnBootstrap(fn func(transcript.Bootstrap)) {
	c.hookMu.Lock()
	c.onBootstrap = fn
	c.hookMu.Unlock()
}

// OnEnqueue registers fn to be called when the host injects an outgoing
// message.
func (c *Client) OnEnqueue(fn func(EnqueuePayload)) {
	c.hookMu.Lock()
	c.onEnqueue = fn
	c.hookMu.Unlock()
}

// Bootstrap waits for the host to deliver the initial session state.
func (c *Client) Bootstrap(ctx context.Context) (transcript.Bootstrap, error) {
	select {
	case <-c.booted:
		return c.boot, nil
	case <-ctx.Done():
		return transcript.Bootstrap{}, ctx.Err()
	}
}

// Chat sends text to the agent and waits for its reply. The host enforces no
// timeout; bound the wait with ctx.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}
	payload, err := json.Marshal(ChatPayload{Text: text})
	if err != nil {
		return "", err
	}
	id, call := c.reg.Issue()
	msg := InboundMessage{ID: id, Type: TypeChat, Payload: payload}
	if err := c.sender.SendToHost(ctx, msg); err != nil {
		c.reg.Forget(id)
		return "", fmt.Errorf("failed to send chat call: %w", err)
	}
	result, err := call.Wait(ctx)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Log forwards a diagnostic line to the host log.
func (c *Client) Log(ctx context.Context, line string) error {
	return c.sender.SendToHost(ctx, InboundMessage{ID: LogID, Log: &line})
}

// HandleEnvelope routes one host to script frame.
func (c *Client) HandleEnvelope(env Envelope) {
	switch env.Call {
	case EntryReceive:
		var resp OutboundResponse
		if err := json.Unmarshal(env.Arg, &resp); err != nil {
			c.log.Debug().Err(err).Msg("Dropping undecodable response")
			return
		}
		c.HandleResponse(resp)
	case EntryBootstrap:
		var boot transcript.Bootstrap
		if err := json.Unmarshal(env.Arg, &boot); err != nil {
			c.log.Warn().Err(err).Msg("Dropping undecodable bootstrap")
			return
		}
		c.handleBootstrap(boot)
	case EntryEnqueue:
		var payload EnqueuePayload
		if err := json.Unmarshal(env.Arg, &payload); err != nil {
			c.log.Warn().Err(err).Msg("Dropping undecodable enqueue request")
			return
		}
		c.hookMu.RLock()
		fn := c.onEnqueue
		c.hookMu.RUnlock()
		if fn != nil {
			fn(payload)
		}
	default:
		c.log.Debug().Str("call", env.Call).Msg("Ignoring unknown entry point")
	}
}

// HandleResponse settles the pending call matching resp.ID. Responses for
// unknown IDs are dropped.
func (c *Client) HandleResponse(resp OutboundResponse) {
	var settled bool
	if resp.OK {
		settled = c.reg.Resolve(resp.ID, resp.Result)
	} else {
		msg := ""
		if resp.Error != nil {
			msg = strings.TrimSpace(*resp.Error)
		}
		settled = c.reg.Reject(resp.ID, &CallError{ID: resp.ID, Message: msg})
	}
	if !settled {
		c.log.Debug().Str("call_id", resp.ID).Msg("Dropping response for unknown call")
	}
}

// Close rejects all outstanding calls.
func (c *Client) Close() {
	if n := c.reg.RejectAll(ErrClosed); n > 0 {
		c.log.Debug().Int("calls", n).Msg("Rejected pending calls on close")
	}
}

func (c *Client) handleBootstrap(boot transcript.Bootstrap) {
	first := false
	c.bootOnce.Do(func() {
		c.boot = boot
		close(c.booted)
		first = true
	})
	if !first {
		c.log.Debug().Msg("Ignoring repeated bootstrap")
		return
	}
	c.hookMu.RLock()
	fn := c.onBootstrap
	c.hookMu.RUnlock()
	if fn != nil {
		fn(boot)
	}
}
