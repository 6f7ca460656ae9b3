package bridgetransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/beeper/webchat-bridge/pkg/bridgerpc"
)

// ScriptConn is the web chat side of the bridge. It implements
// bridgerpc.Sender.
type ScriptConn struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
}

// Dial connects to a host bridge endpoint, e.g.
// ws://127.0.0.1:18790/webchat/bridge?session=main.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*ScriptConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return &ScriptConn{conn: conn, log: log}, nil
}

// SendToHost writes msg as one frame. Frames leave in call order.
func (s *ScriptConn) SendToHost(ctx context.Context, msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, msg)
}

// Run reads host frames until the connection closes, passing each decoded
// envelope to handle.
func (s *ScriptConn) Run(ctx context.Context, handle func(bridgerpc.Envelope)) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		var env bridgerpc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debug().Err(err).Msg("Ignoring undecodable frame from host")
			continue
		}
		handle(env)
	}
}

func (s *ScriptConn) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
