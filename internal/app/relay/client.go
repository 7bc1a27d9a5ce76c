package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetline/internal/app/signal"
	"meetline/internal/pkg/errs"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. SDP bodies
	// are the largest thing carried.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one signaling connection of an authenticated participant.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	participantID string

	// buffered outbound frames; written and closed only by the hub goroutine.
	send chan []byte

	closeOnce sync.Once
	closeCode int
	closeText string

	// meetings joined on this connection; owned by the hub goroutine.
	rooms map[string]struct{}

	log zerolog.Logger
}

func newClient(h *Hub, conn *websocket.Conn, participantID string) *Client {
	return &Client{
		hub:           h,
		conn:          conn,
		participantID: participantID,
		send:          make(chan []byte, sendBuffer),
		rooms:         make(map[string]struct{}),
		log:           h.log.With().Str("participant_id", participantID).Logger(),
	}
}

// closeWith closes the send buffer, making the write pump send a close frame
// with code and text. Only the first call has an effect.
func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.send)
	})
}

// ServeWS upgrades the request and serves the connection of participantID
// until it closes. The caller has already authenticated the request.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, participantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("participant_id", participantID).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(h, conn, participantID)

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c.log.Info().Msg("Signaling connection opened")

	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, CloseCodeSessionReplaced) {
				c.log.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		c.handleFrame(msg)
	}
}

func (c *Client) cleanupOnDisconnect() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug().Err(err).Msg("Client connection close error")
	}
	c.log.Info().Msg("Signaling connection closed")
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, c.closeText))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(msg []byte) {
	f, err := signal.Decode(msg)
	if err != nil {
		c.log.Warn().Err(err).Msg("Client sent an invalid frame")
		c.sendError(errs.NewError(errs.ErrInvalidJSONFormat), "")
		return
	}

	switch f.Event {
	case signal.EventJoinMeeting:
		var data signal.JoinMeetingData
		if err := f.Bind(&data); err != nil {
			c.sendError(errs.NewError(errs.ErrInvalidParams), f.Event)
			return
		}
		c.handleJoin(data)

	case signal.EventLeaveMeeting:
		var data signal.LeaveMeetingData
		if err := f.Bind(&data); err != nil {
			c.sendError(errs.NewError(errs.ErrInvalidParams), f.Event)
			return
		}
		c.hub.submit(func() { c.hub.leave(c, data.MeetingID) })

	case signal.EventSignal:
		var env signal.Envelope
		if err := f.Bind(&env); err != nil {
			c.sendError(errs.NewError(errs.ErrInvalidSignal), f.Event)
			return
		}
		if err := env.Validate(); err != nil || !env.ClientSendable() {
			c.log.Debug().Err(err).Str("type", string(env.Type)).Msg("Rejected signal envelope")
			c.sendError(errs.NewError(errs.ErrInvalidSignal), f.Event)
			return
		}
		c.hub.submit(func() { c.hub.route(c, env) })

	case signal.EventChat:
		var data signal.ChatData
		if err := f.Bind(&data); err != nil || data.MeetingID == "" || data.Message == "" {
			c.sendError(errs.NewError(errs.ErrInvalidParams), f.Event)
			return
		}
		if len(data.Message) > signal.MaxChatLength {
			c.sendError(errs.NewError(errs.ErrMessageContentTooLong), f.Event)
			return
		}
		c.hub.submit(func() { c.hub.chat(c, data) })

	default:
		c.log.Warn().Str("event", string(f.Event)).Msg("Unknown event")
		c.sendError(errs.NewError(errs.ErrInvalidParams), f.Event)
	}
}

// handleJoin asks the directory before the hub admits the connection. It runs
// on the read pump so slow lookups never stall routing for others.
func (c *Client) handleJoin(data signal.JoinMeetingData) {
	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()

	active, err := c.hub.dir.IsActiveParticipant(ctx, data.MeetingID, c.participantID)
	if err != nil {
		c.log.Error().Err(err).Str("meeting_id", data.MeetingID).Msg("Directory lookup failed on join")
		c.sendError(errs.NewError(errs.ErrUnknown), signal.EventJoinMeeting)
		return
	}
	if !active {
		c.sendError(errs.NewError(errs.ErrNotParticipant), signal.EventJoinMeeting)
		return
	}

	if data.SessionToken != "" && c.hub.sessions != nil {
		if _, err := c.hub.sessions.VerifySession(data.SessionToken, data.MeetingID, c.participantID); err != nil {
			c.sendError(errs.NewError(errs.ErrUnauthorized), signal.EventJoinMeeting)
			return
		}
	}

	name := data.DisplayName
	if name == "" {
		name = c.participantID
	}
	c.hub.submit(func() { c.hub.join(c, data.MeetingID, name) })
}

func (c *Client) sendError(ce *errs.CustomError, event signal.Event) {
	c.hub.submit(func() { c.hub.deliverError(c, ce, event) })
}
