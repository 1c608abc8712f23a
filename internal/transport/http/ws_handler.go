package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"assessx-live/internal/app"
	"assessx-live/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var (
	errNotJoined    = errors.New("join a session first")
	errCodeMismatch = errors.New("test code does not match this connection's session")
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins.
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the live session protocol over websockets.
type WSHandler struct {
	coord    *app.Coordinator
	upgrader websocket.Upgrader
	buffer   int
	log      zerolog.Logger
}

func NewWSHandler(coord *app.Coordinator, allowedOrigins []string, buffer int, log zerolog.Logger) *WSHandler {
	if buffer <= 0 {
		buffer = 64
	}
	return &WSHandler{
		coord:    coord,
		upgrader: buildUpgrader(allowedOrigins),
		buffer:   buffer,
		log:      log.With().Str("component", "ws_handler").Logger(),
	}
}

// connection is the per-socket state. membership and mlog are only touched
// by the read loop and, after it exits, by leave.
type connection struct {
	id   string
	ws   *websocket.Conn
	send chan outboundMessage
	done chan struct{}
	once sync.Once
	log  zerolog.Logger

	membership *app.Membership
	mlog       zerolog.Logger
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	id := uuid.NewString()
	c := &connection{
		id:   id,
		ws:   ws,
		send: make(chan outboundMessage, h.buffer),
		done: make(chan struct{}),
		log:  h.log.With().Str("conn_id", id).Logger(),
	}
	c.mlog = c.log
	c.log.Debug().Str("remote", r.RemoteAddr).Msg("connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	h.readLoop(context.WithoutCancel(r.Context()), c)
	c.shutdown()
	<-writerDone
	h.leave(c)
	c.log.Debug().Msg("connection closed")
}

func (h *WSHandler) readLoop(ctx context.Context, c *connection) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("ws read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("invalid message")
			continue
		}
		h.dispatch(ctx, c, in)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, c *connection, in inboundMessage) {
	switch in.Type {
	case msgPing:
		c.enqueue(outboundMessage{Type: msgPong, Payload: struct{}{}})
	case msgJoin:
		h.handleJoin(ctx, c, in.Payload)
	case msgObserverJoin:
		h.handleObserverJoin(ctx, c, in.Payload)
	case msgStart, msgStop:
		h.handleAdmin(ctx, c, in.Type, in.Payload)
	case msgSubmit:
		h.handleSubmit(ctx, c, in.Payload)
	case msgViolation:
		h.handleViolation(ctx, c, in.Payload)
	default:
		c.sendError("unsupported message type")
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, c *connection, payload json.RawMessage) {
	var req domain.JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid join payload")
		return
	}
	if c.membership != nil {
		c.sendError("connection already joined a session")
		return
	}

	m, err := h.coord.Join(ctx, c.id, req)
	if err != nil {
		c.log.Info().Err(err).Str("test_code", req.TestCode).Msg("join rejected")
		c.sendError(userMessage(err))
		return
	}
	c.attach(m)
	c.enqueue(outboundMessage{Type: msgStatusSnapshot, Payload: m.Status})
}

func (h *WSHandler) handleObserverJoin(ctx context.Context, c *connection, payload json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("invalid observer payload")
		return
	}
	if c.membership != nil {
		c.sendError("connection already joined a session")
		return
	}

	m, err := h.coord.Observe(ctx, c.id, p.TestCode)
	if err != nil {
		c.log.Info().Err(err).Str("test_code", p.TestCode).Msg("observer join rejected")
		c.sendError(userMessage(err))
		return
	}
	c.attach(m)
	c.enqueue(outboundMessage{Type: string(domain.EventRosterUpdate), Payload: m.Roster})
	c.enqueue(outboundMessage{Type: msgStatusSnapshot, Payload: m.Status})
}

func (h *WSHandler) handleAdmin(ctx context.Context, c *connection, kind string, payload json.RawMessage) {
	code, err := c.sessionCode(payload)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if kind == msgStart {
		_, _, err = h.coord.Start(ctx, c.id, code)
	} else {
		_, err = h.coord.Stop(ctx, c.id, code)
	}
	if err != nil {
		c.mlog.Warn().Err(err).Str("command", kind).Msg("admin command rejected")
		c.sendError(userMessage(err))
	}
}

func (h *WSHandler) handleSubmit(ctx context.Context, c *connection, payload json.RawMessage) {
	var p submitPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("invalid submit payload")
		return
	}
	code, err := c.matchCode(p.TestCode)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	result, err := h.coord.Submit(ctx, c.id, code, p.submission())
	if err != nil {
		c.sendError(userMessage(err))
		return
	}
	c.enqueue(outboundMessage{Type: msgScoreResult, Payload: result})
}

func (h *WSHandler) handleViolation(ctx context.Context, c *connection, payload json.RawMessage) {
	code, err := c.sessionCode(payload)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if _, err := h.coord.ReportViolation(ctx, c.id, code); err != nil {
		c.mlog.Warn().Err(err).Msg("violation report ignored")
	}
}

// leave releases the subscription and the roster entry after the socket is gone.
func (h *WSHandler) leave(c *connection) {
	if c.membership == nil {
		return
	}
	c.membership.Cancel()
	c.mlog.Debug().Msg("leaving session")
	h.coord.Leave(context.Background(), c.id, c.membership.TestCode)
}

func (c *connection) attach(m app.Membership) {
	c.membership = &m
	c.mlog = c.log.With().Str("test_code", m.TestCode).Logger()
	go c.pump(m.Events, c.mlog)
}

// pump forwards session events. While it waits on a full outbound buffer the
// broker keeps only the newest roster for this connection. A subscription
// closed by the broker means the session was evicted or the connection fell
// behind on lifecycle events, and the socket is closed.
func (c *connection) pump(events <-chan domain.Event, log zerolog.Logger) {
	for ev := range events {
		if !c.enqueue(outboundMessage{Type: string(ev.Type), Payload: ev.Payload}) {
			return
		}
	}
	select {
	case <-c.done:
	default:
		log.Info().Msg("subscription closed, closing connection")
		c.shutdown()
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued before the close frame.
func (c *connection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(msg outboundMessage) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Msg("ws write error")
		return err
	}
	return nil
}

// enqueue waits up to writeWait for room in the outbound buffer. A client
// that cannot take a message in that time is closed.
func (c *connection) enqueue(msg outboundMessage) bool {
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	case <-timer.C:
		c.log.Warn().Str("type", msg.Type).Msg("outbound buffer full, closing slow connection")
		c.shutdown()
		return false
	}
}

func (c *connection) sendError(message string) {
	c.enqueue(outboundMessage{Type: msgError, Payload: errorPayload{Message: message}})
}

func (c *connection) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *connection) sessionCode(payload json.RawMessage) (string, error) {
	var p codePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", errors.New("invalid payload")
		}
	}
	return c.matchCode(p.TestCode)
}

// matchCode resolves the session a command targets. Commands may omit the
// code but must not name a different session.
func (c *connection) matchCode(code string) (string, error) {
	if c.membership == nil {
		return "", errNotJoined
	}
	if code != "" && code != c.membership.TestCode {
		return "", errCodeMismatch
	}
	return c.membership.TestCode, nil
}

// userMessage maps use case errors to what a client is told. Submission
// rejections stay generic.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownTestCode):
		return "invalid test code"
	case errors.Is(err, domain.ErrInvalidJoin):
		return "invalid join request"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrNotObserver):
		return "only the test administrator can do that"
	case errors.Is(err, domain.ErrSessionNotStarted):
		return "test has not started yet"
	case errors.Is(err, domain.ErrScoringFailure):
		return "submission could not be saved, please retry"
	case errors.Is(err, domain.ErrUnknownParticipant),
		errors.Is(err, domain.ErrAlreadySubmitted),
		errors.Is(err, domain.ErrSubmissionInProgress):
		return "submission rejected"
	default:
		return "request failed"
	}
}
