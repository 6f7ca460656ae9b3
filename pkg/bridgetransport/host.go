package bridgetransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/beeper/webchat-bridge/pkg/bridgerpc"
)

// State is the lifecycle of an attached web chat as seen by the host.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var ErrNotAttached = errors.New("web chat is not attached")

const maxMessageSize = 8 * 1024 * 1024

// HostEndpoint is the host side of one web chat connection.
type HostEndpoint struct {
	id   string
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	state   atomic.Int32
}

// Accept upgrades r to a bridge connection.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions, log zerolog.Logger) (*HostEndpoint, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	id := xid.New().String()
	return &HostEndpoint{
		id:   id,
		conn: conn,
		log:  log.With().Str("endpoint_id", id).Logger(),
	}, nil
}

func (e *HostEndpoint) ID() string {
	return e.id
}

func (e *HostEndpoint) State() State {
	return State(e.state.Load())
}

// MarkReady records that the web chat has received its bootstrap.
func (e *HostEndpoint) MarkReady() {
	e.state.CompareAndSwap(int32(StateLoading), int32(StateReady))
}

// Deliver invokes entryPoint in the web chat with arg as its only argument.
func (e *HostEndpoint) Deliver(ctx context.Context, entryPoint string, arg any) error {
	if e == nil || e.State() == StateClosed {
		return ErrNotAttached
	}
	rawArg, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("failed to encode %s argument: %w", entryPoint, err)
	}
	data, err := json.Marshal(bridgerpc.Envelope{Call: entryPoint, Arg: rawArg})
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.Write(ctx, websocket.MessageText, data)
}

// DeliverToScript is Deliver for callers that cannot act on failure: the web
// chat may be loading, navigating away or gone, and none of that is the
// host's problem.
func (e *HostEndpoint) DeliverToScript(ctx context.Context, entryPoint string, arg any) {
	if e == nil {
		return
	}
	if err := e.Deliver(ctx, entryPoint, arg); err != nil {
		e.log.Debug().Err(err).Str("entry_point", entryPoint).Msg("Dropped delivery to web chat")
	}
}

// Serve reads inbound frames and hands each one to handle until the
// connection closes or ctx ends. handle must not block.
func (e *HostEndpoint) Serve(ctx context.Context, handle func([]byte)) error {
	defer e.state.Store(int32(StateClosed))
	for {
		typ, data, err := e.conn.Read(ctx)
		if err != nil {
			e.state.Store(int32(StateClosed))
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				e.log.Debug().Msg("Web chat disconnected")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			// The page process died or the socket broke. Nothing restarts it;
			// the session has to be reopened.
			e.log.Warn().Err(err).Msg("Web chat terminated unexpectedly")
			return err
		}
		if typ != websocket.MessageText {
			e.log.Debug().Msg("Ignoring binary frame from web chat")
			continue
		}
		handle(data)
	}
}

// Close closes the connection with a normal closure status.
func (e *HostEndpoint) Close(reason string) {
	if e == nil {
		return
	}
	if State(e.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	_ = e.conn.Close(websocket.StatusNormalClosure, reason)
}
