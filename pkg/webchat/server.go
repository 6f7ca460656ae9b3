package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"

	"github.com/beeper/webchat-bridge/pkg/bridgetransport"
)

const DefaultEnqueueTimeout = 10 * time.Second

// Server exposes a Manager over HTTP:
//
//	GET  /webchat/bridge?session=<key>  web chat connection (WebSocket)
//	POST /webchat/enqueue               ask a web chat to send a message
//	GET  /webchat/status                busy flag and attached sessions
type Server struct {
	mgr            *Manager
	enqueueTimeout time.Duration
	acceptOpts     *websocket.AcceptOptions
	log            zerolog.Logger
	mux            *http.ServeMux
}

func NewServer(mgr *Manager, enqueueTimeout time.Duration, originPatterns []string, log zerolog.Logger) *Server {
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultEnqueueTimeout
	}
	s := &Server{
		mgr:            mgr,
		enqueueTimeout: enqueueTimeout,
		acceptOpts:     &websocket.AcceptOptions{OriginPatterns: originPatterns},
		log:            log.With().Str("component", "http").Logger(),
		mux:            http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /webchat/bridge", s.handleBridge)
	s.mux.HandleFunc("POST /webchat/enqueue", s.handleEnqueue)
	s.mux.HandleFunc("GET /webchat/status", s.handleStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleBridge handles GET /webchat/bridge
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("session")
	ep, err := bridgetransport.Accept(w, r, s.acceptOpts, s.log)
	if err != nil {
		// Accept has already written the error response.
		s.log.Debug().Err(err).Msg("Failed to accept web chat connection")
		return
	}
	if err = s.mgr.Serve(r.Context(), key, ep); err != nil {
		s.log.Debug().Err(err).Str("endpoint_id", ep.ID()).Msg("Web chat connection ended with error")
	}
}

// ReqEnqueue is the request body for POST /webchat/enqueue
type ReqEnqueue struct {
	Text       string `json:"text"`
	Thinking   string `json:"thinking"`
	SessionKey string `json:"sessionKey"`
}

type RespEnqueue struct {
	Accepted bool   `json:"accepted"`
	ErrCode  string `json:"errcode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleEnqueue handles POST /webchat/enqueue
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req ReqEnqueue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrBadJSON.Write(w)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		ErrMessageEmpty.Write(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.enqueueTimeout)
	defer cancel()
	if err := s.mgr.Enqueue(ctx, req.Text, req.Thinking, req.SessionKey); err != nil {
		s.log.Warn().Err(err).Str("session_key", req.SessionKey).Msg("Failed to enqueue message")
		exhttp.WriteJSONResponse(w, ErrNotDelivered.StatusCode, &RespEnqueue{
			ErrCode: ErrNotDelivered.ErrCode,
			Error:   err.Error(),
		})
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, &RespEnqueue{Accepted: true})
}

type RespStatus struct {
	Busy     bool          `json:"busy"`
	Active   int           `json:"active"`
	Sessions []SessionInfo `json:"sessions"`
}

// handleStatus handles GET /webchat/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	busy := s.mgr.Busy()
	exhttp.WriteJSONResponse(w, http.StatusOK, &RespStatus{
		Busy:     busy.Busy(),
		Active:   busy.Active(),
		Sessions: s.mgr.Sessions(),
	})
}
