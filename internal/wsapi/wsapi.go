// Package wsapi is the thin WebSocket collaborator layer named in
// spec.md §6.6: per-connection command ingress only. It deliberately
// carries no broadcast/hub machinery — "real-time push of projection
// updates to clients" is an explicit Non-goal — so every connection is
// independent: read a command envelope, dispatch it, write back the
// outcome on the same connection. Grounded on the reference's
// internal/websocket/client.go connection-pump skeleton (ping/pong,
// read/write deadlines, read-size limit), with its Hub/broadcast/
// NATS-subscriber machinery dropped rather than adapted — see DESIGN.md.
package wsapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/authctx"
	"github.com/podcloud/balados-sync/internal/dispatcher"
	"github.com/podcloud/balados-sync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// inbound mirrors httpapi's command envelope (spec §6.5), read one per
// WebSocket text frame.
type inbound struct {
	RequestID string          `json:"request_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	EventInfo struct {
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
		Privacy    string `json:"privacy"`
	} `json:"event_info"`
}

// outbound is the per-command acknowledgement written back on the same
// connection it arrived on.
type outbound struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Version   int64  `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DecodeCommandFunc maps (userID, type, payload) to an aggregate.Command.
// Supplied by cmd/server so wsapi shares httpapi's envelope-to-command
// mapping without the two thin transport packages importing each other.
type DecodeCommandFunc func(userID, commandType string, payload json.RawMessage) (aggregate.Command, error)

// Server upgrades HTTP connections to WebSocket and routes each inbound
// command to the Dispatcher.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	verifier   *authctx.Verifier
	decode     DecodeCommandFunc
	upgrader   websocket.Upgrader
}

// NewServer constructs a wsapi.Server. decode is supplied by the caller
// (cmd/server) to share httpapi's envelope-to-command mapping without
// wsapi importing httpapi.
func NewServer(d *dispatcher.Dispatcher, v *authctx.Verifier, decode DecodeCommandFunc, allowedOrigins []string) *Server {
	return &Server{
		dispatcher: d,
		verifier:   v,
		decode:     decode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// ServeHTTP authenticates the connection via the same bearer token scheme
// as httpapi, upgrades it, and pumps inbound commands until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := s.verifier.UserID(token)
	if err != nil {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("wsapi: upgrade failed")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go s.pingLoop(conn, done)
	s.readLoop(r.Context(), conn, userID)
	close(done)
	_ = conn.Close()
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop blocks reading command envelopes until the connection closes,
// dispatching each one and writing back an acknowledgement. One
// connection processes its own commands sequentially; concurrency across
// users is unaffected since the aggregate runtime serializes per stream
// regardless of transport.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, userID string) {
	for {
		var env inbound
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("wsapi: unexpected close")
			}
			return
		}

		cmd, derr := s.decode(userID, env.Type, env.Payload)
		if derr != nil {
			s.writeAck(conn, outbound{RequestID: env.RequestID, OK: false, Error: "invalid_command"})
			continue
		}

		info := dispatcher.EventInfo{
			DeviceID:   env.EventInfo.DeviceID,
			DeviceName: env.EventInfo.DeviceName,
			Privacy:    env.EventInfo.Privacy,
		}
		result, dispatchErr := s.dispatcher.Dispatch(ctx, cmd, info)
		if dispatchErr != nil {
			code := "unavailable"
			var dispErr *dispatcher.Error
			if errors.As(dispatchErr, &dispErr) {
				code = string(dispErr.Code)
			}
			s.writeAck(conn, outbound{RequestID: env.RequestID, OK: false, Error: code})
			continue
		}
		s.writeAck(conn, outbound{RequestID: env.RequestID, OK: true, Version: result.NewVersion})
	}
}

func (s *Server) writeAck(conn *websocket.Conn, ack outbound) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ack); err != nil {
		logging.Warn().Err(err).Msg("wsapi: ack write failed")
	}
}
