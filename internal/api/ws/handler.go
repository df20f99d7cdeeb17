// Package ws provides the websocket transport for player clients.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/museumplayer/internal/app/notification"
	"github.com/osa030/museumplayer/internal/app/session"
	"github.com/osa030/museumplayer/internal/infra/config"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Handler upgrades /ws requests and binds each connection to the session.
type Handler struct {
	session  *session.Manager
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler. Origins are checked against the server
// allow list.
func NewHandler(s *session.Manager, cfg *config.Config) *Handler {
	return &Handler{
		session: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.IsOriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("ws: upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &clientConn{conn: conn}
	clientID := h.session.Connect(c, r.RemoteAddr)
	defer h.session.Disconnect(clientID)

	go func() {
		select {
		case <-ctx.Done():
		case <-h.session.Done():
			c.close(websocket.CloseGoingAway, "server shutting down")
		}
	}()
	go c.keepAlive(ctx)

	h.readLoop(ctx, c, clientID)
}

// readLoop applies client commands until the connection fails.
func (h *Handler) readLoop(ctx context.Context, c *clientConn, clientID string) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Debug().Msgf("ws: read failed: client_id=%s err=%v", clientID, err)
			}
			return
		}

		result := h.session.Dispatch(ctx, clientID, session.Command(req.Cmd), req.Value)
		if err := c.reply(newReply(req.Cmd, result)); err != nil {
			zlog.Debug().Msgf("ws: reply failed: client_id=%s err=%v", clientID, err)
			return
		}
	}
}

func newReply(cmd string, err error) Reply {
	switch {
	case err == nil:
		return Reply{Cmd: cmd, OK: true}
	case errors.Is(err, session.ErrPlaybackPending):
		return Reply{Cmd: cmd, OK: true, Pending: true}
	default:
		return Reply{Cmd: cmd, Error: err.Error()}
	}
}

// clientConn serializes writes to one websocket connection and implements
// notification.Stream. Broadcasts may reach Send out of order, so a
// snapshot older than the last one written is dropped.
type clientConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	lastSeq uint64
}

var _ notification.Stream = (*clientConn)(nil)

// Send writes a snapshot message unless a newer one was already written.
func (c *clientConn) Send(msg *notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.advance(msg.SequenceNo) {
		return nil
	}
	return c.writeLocked(newMessage(msg))
}

// advance records seq as written and reports whether it is newer than
// every snapshot written before.
func (c *clientConn) advance(seq uint64) bool {
	if seq <= c.lastSeq {
		return false
	}
	c.lastSeq = seq
	return true
}

func (c *clientConn) reply(r Reply) error {
	return c.writeJSON(r)
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(v)
}

func (c *clientConn) writeLocked(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *clientConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
