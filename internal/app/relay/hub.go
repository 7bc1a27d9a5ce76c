/*
Package relay forwards signaling messages between the participants of a meeting.

A single Hub goroutine owns every connection and every room. Read pumps decode
frames and ask the directory whether a join is allowed, then hand the result to
the hub; the hub is the only writer of client send buffers.
*/
package relay

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetline/internal/app/signal"
	"meetline/internal/pkg/auth/jwt"
	"meetline/internal/pkg/errs"
	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/randx"
)

const (
	// CloseCodeSessionReplaced is sent to a connection superseded by a newer one
	// for the same participant.
	CloseCodeSessionReplaced = 4001

	opsBuffer      = 1024
	presenceBuffer = 1024

	// bound on directory and presence calls made on behalf of a connection.
	directoryTimeout = 5 * time.Second

	// how long an ended meeting keeps refusing joins that passed the
	// directory check before it ended.
	endedRetention = time.Minute
)

// Directory is the slice of the session directory the relay depends on.
type Directory interface {
	IsActiveParticipant(ctx context.Context, meetingID, participantID string) (bool, error)
	Leave(ctx context.Context, meetingID, participantID string) error
}

// SessionVerifier checks the optional per-meeting session credential a client
// may present on join_meeting.
type SessionVerifier interface {
	VerifySession(opaque, meetingID, participantID string) (*jwt.Claims, error)
}

// Options are optional collaborators of a Hub.
type Options struct {
	Sessions SessionVerifier
	Presence Presence
	Metrics  *Metrics
	Now      func() time.Time
}

type member struct {
	client      *Client
	displayName string
}

type presenceOp struct {
	meetingID     string
	participantID string
	remove        bool
	clear         bool
}

// Hub routes frames among connected clients grouped by meeting.
type Hub struct {
	dir      Directory
	sessions SessionVerifier
	presence Presence
	metrics  *Metrics
	now      func() time.Time
	log      zerolog.Logger

	register    chan *Client
	unregister  chan *Client
	ops         chan func()
	presenceOps chan presenceOp
	done        chan struct{}

	// releases tracks directory leaves issued after disconnects.
	releases sync.WaitGroup

	// owned by the Run goroutine
	clients map[string]*Client
	rooms   map[string]map[string]member
	ended   map[string]time.Time
}

// NewHub returns a Hub that authorizes joins against dir.
func NewHub(dir Directory, opts Options) *Hub {
	h := &Hub{
		dir:         dir,
		sessions:    opts.Sessions,
		presence:    opts.Presence,
		metrics:     opts.Metrics,
		now:         opts.Now,
		log:         logx.Component("relay"),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ops:         make(chan func(), opsBuffer),
		presenceOps: make(chan presenceOp, presenceBuffer),
		done:        make(chan struct{}),
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]member),
		ended:       make(map[string]time.Time),
	}
	if h.presence == nil {
		h.presence = NopPresence{}
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Run processes hub events until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	var presenceDone sync.WaitGroup
	presenceDone.Add(1)
	go func() {
		defer presenceDone.Done()
		h.runPresence()
	}()

	h.log.Info().Msg("Relay hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			close(h.presenceOps)
			presenceDone.Wait()
			h.log.Info().Msg("Relay hub stopped")
			return

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case op := <-h.ops:
			op()
		}
	}
}

// Wait blocks until directory leaves started by disconnects have finished.
func (h *Hub) Wait() {
	h.releases.Wait()
}

// submit queues op for the hub goroutine. It reports false once the hub stopped.
func (h *Hub) submit(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for _, c := range h.clients {
		c.closeWith(websocket.CloseGoingAway, "Server shutting down")
	}
	clear(h.clients)
	clear(h.rooms)
	h.metrics.clients.Set(0)
	h.metrics.rooms.Set(0)
}

func (h *Hub) handleRegister(c *Client) {
	if old, ok := h.clients[c.participantID]; ok {
		// the newer connection inherits the rooms so the participant never
		// appears to leave
		for meetingID := range old.rooms {
			room := h.rooms[meetingID]
			m := room[c.participantID]
			m.client = c
			room[c.participantID] = m
			c.rooms[meetingID] = struct{}{}
		}
		clear(old.rooms)
		old.closeWith(CloseCodeSessionReplaced, errs.NewError(errs.ErrSessionReplaced).Message)

		h.log.Info().Str("participant_id", c.participantID).Msg("Connection replaced by a newer one")
	}

	h.clients[c.participantID] = c
	h.metrics.clients.Set(float64(len(h.clients)))
}

func (h *Hub) handleUnregister(c *Client) {
	if h.clients[c.participantID] != c {
		c.closeWith(websocket.CloseNormalClosure, "")
		return
	}

	delete(h.clients, c.participantID)
	for meetingID := range c.rooms {
		h.removeMember(meetingID, c.participantID)
		h.release(meetingID, c.participantID)
	}
	clear(c.rooms)
	c.closeWith(websocket.CloseNormalClosure, "")

	h.metrics.clients.Set(float64(len(h.clients)))
	c.log.Debug().Msg("Client unregistered")
}

// removeMember drops participantID from the room and tells the rest.
func (h *Hub) removeMember(meetingID, participantID string) (member, bool) {
	room := h.rooms[meetingID]
	m, ok := room[participantID]
	if !ok {
		return member{}, false
	}

	delete(room, participantID)
	delete(m.client.rooms, meetingID)
	if len(room) == 0 {
		delete(h.rooms, meetingID)
		h.metrics.rooms.Set(float64(len(h.rooms)))
	}

	h.queuePresence(presenceOp{meetingID: meetingID, participantID: participantID, remove: true})

	env, err := signal.NewPresence(signal.KindParticipantLeft, meetingID, signal.Presence{
		ParticipantID: participantID,
		DisplayName:   m.displayName,
	})
	if err == nil {
		h.broadcast(meetingID, "", signal.EventParticipantLeft, env)
	}
	return m, true
}

// release marks the participant as gone in the directory.
func (h *Hub) release(meetingID, participantID string) {
	h.releases.Add(1)
	go func() {
		defer h.releases.Done()

		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()

		if err := h.dir.Leave(ctx, meetingID, participantID); err != nil {
			h.log.Warn().Err(err).
				Str("meeting_id", meetingID).
				Str("participant_id", participantID).
				Msg("Failed to release participant after disconnect")
		}
	}()
}

// join is run on the hub goroutine once the directory allowed c into meetingID.
func (h *Hub) join(c *Client, meetingID, displayName string) {
	if h.clients[c.participantID] != c {
		return
	}
	if _, ok := h.ended[meetingID]; ok {
		h.deliverError(c, errs.NewError(errs.ErrMeetingNotFound), signal.EventJoinMeeting)
		return
	}

	room, ok := h.rooms[meetingID]
	if !ok {
		room = make(map[string]member)
		h.rooms[meetingID] = room
		h.metrics.rooms.Set(float64(len(h.rooms)))
	}
	room[c.participantID] = member{client: c, displayName: displayName}
	c.rooms[meetingID] = struct{}{}

	h.deliverFrame(c, signal.EventJoined, signal.JoinedData{
		MeetingID:    meetingID,
		Participants: h.roster(meetingID),
	})

	env, err := signal.NewPresence(signal.KindParticipantJoined, meetingID, signal.Presence{
		ParticipantID: c.participantID,
		DisplayName:   displayName,
	})
	if err == nil {
		h.broadcast(meetingID, c.participantID, signal.EventParticipantJoined, env)
	}

	h.queuePresence(presenceOp{meetingID: meetingID, participantID: c.participantID})
	c.log.Info().Str("meeting_id", meetingID).Msg("Joined signaling room")
}

func (h *Hub) leave(c *Client, meetingID string) {
	if h.clients[c.participantID] != c {
		return
	}
	if _, ok := h.removeMember(meetingID, c.participantID); ok {
		c.log.Info().Str("meeting_id", meetingID).Msg("Left signaling room")
	}
}

// route forwards a client envelope to its target, or to everyone else in the
// meeting when it has none.
func (h *Hub) route(c *Client, env signal.Envelope) {
	if h.clients[c.participantID] != c {
		return
	}

	room := h.rooms[env.MeetingID]
	if _, ok := room[c.participantID]; !ok {
		h.deliverError(c, errs.NewError(errs.ErrNotParticipant), signal.EventSignal)
		return
	}

	env.From = c.participantID
	h.metrics.signals.WithLabelValues(string(env.Type)).Inc()

	if env.To == "" {
		h.broadcast(env.MeetingID, c.participantID, signal.EventSignal, env)
		return
	}

	target, ok := room[env.To]
	if !ok || target.client == c {
		c.log.Debug().Str("to", env.To).Str("type", string(env.Type)).Msg("Signal target not connected, dropped")
		return
	}

	msg, err := signal.Encode(signal.EventSignal, env)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode signal")
		return
	}
	if !h.deliver(target.client, msg) {
		h.drop(target.client)
	}
}

func (h *Hub) chat(c *Client, data signal.ChatData) {
	if h.clients[c.participantID] != c {
		return
	}

	room := h.rooms[data.MeetingID]
	m, ok := room[c.participantID]
	if !ok {
		h.deliverError(c, errs.NewError(errs.ErrNotParticipant), signal.EventChat)
		return
	}

	data.ID = randx.MessageID()
	data.From = c.participantID
	data.ParticipantName = m.displayName
	data.SentAt = h.now().UTC()

	h.broadcast(data.MeetingID, c.participantID, signal.EventChat, data)
}

// MeetingEnded tells every connected participant and forgets the room.
func (h *Hub) MeetingEnded(meetingID string) {
	h.submit(func() {
		now := h.now()
		for id, at := range h.ended {
			if now.Sub(at) > endedRetention {
				delete(h.ended, id)
			}
		}
		h.ended[meetingID] = now

		room, ok := h.rooms[meetingID]
		if !ok {
			return
		}

		h.broadcast(meetingID, "", signal.EventMeetingEnded, signal.MeetingEndedData{MeetingID: meetingID})

		for _, m := range room {
			delete(m.client.rooms, meetingID)
		}
		delete(h.rooms, meetingID)
		h.metrics.rooms.Set(float64(len(h.rooms)))
		h.queuePresence(presenceOp{meetingID: meetingID, clear: true})

		h.log.Info().Str("meeting_id", meetingID).Msg("Signaling room closed")
	})
}

// ParticipantRemoved detaches a participant the directory no longer lists.
// The removed participant is told as well, so its client can tear down.
func (h *Hub) ParticipantRemoved(meetingID, participantID string) {
	h.submit(func() {
		m, ok := h.removeMember(meetingID, participantID)
		if !ok {
			return
		}

		env, err := signal.NewPresence(signal.KindParticipantLeft, meetingID, signal.Presence{
			ParticipantID: participantID,
			DisplayName:   m.displayName,
		})
		if err != nil {
			return
		}
		msg, err := signal.Encode(signal.EventParticipantLeft, env)
		if err != nil {
			return
		}
		if h.clients[participantID] == m.client && !h.deliver(m.client, msg) {
			h.drop(m.client)
		}
	})
}

// Connected lists the participant ids with a live connection in meetingID,
// merged with what other instances reported through presence.
func (h *Hub) Connected(ctx context.Context, meetingID string) ([]string, error) {
	reply := make(chan []string, 1)
	ok := h.submit(func() {
		ids := make([]string, 0, len(h.rooms[meetingID]))
		for id := range h.rooms[meetingID] {
			ids = append(ids, id)
		}
		reply <- ids
	})
	if !ok {
		return nil, context.Canceled
	}

	var ids []string
	select {
	case ids = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	remote, err := h.presence.Members(ctx, meetingID)
	if err != nil {
		h.log.Warn().Err(err).Str("meeting_id", meetingID).Msg("Presence lookup failed, using local view")
	}
	for _, id := range remote {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)
	return ids, nil
}

func (h *Hub) roster(meetingID string) []signal.Presence {
	list := make([]signal.Presence, 0, len(h.rooms[meetingID]))
	for id, m := range h.rooms[meetingID] {
		list = append(list, signal.Presence{ParticipantID: id, DisplayName: m.displayName})
	}
	slices.SortFunc(list, func(a, b signal.Presence) int {
		if a.ParticipantID < b.ParticipantID {
			return -1
		}
		if a.ParticipantID > b.ParticipantID {
			return 1
		}
		return 0
	})
	return list
}

// broadcast sends one frame to every member of meetingID except the one whose
// id equals except. Clients that cannot keep up are dropped afterwards.
func (h *Hub) broadcast(meetingID, except string, event signal.Event, data any) {
	msg, err := signal.Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("Failed to encode broadcast")
		return
	}

	var slow []*Client
	for id, m := range h.rooms[meetingID] {
		if id == except {
			continue
		}
		if !h.deliver(m.client, msg) {
			slow = append(slow, m.client)
		}
	}
	for _, c := range slow {
		h.drop(c)
	}
}

func (h *Hub) deliverFrame(c *Client, event signal.Event, data any) {
	msg, err := signal.Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("Failed to encode frame")
		return
	}
	if !h.deliver(c, msg) {
		h.drop(c)
	}
}

func (h *Hub) deliverError(c *Client, ce *errs.CustomError, event signal.Event) {
	if h.clients[c.participantID] != c {
		return
	}
	h.deliverFrame(c, signal.EventError, signal.ErrorData{Code: ce.Code, Message: ce.Message, Event: event})
}

// deliver queues msg without blocking. Only called for registered clients,
// whose send channel is still open.
func (h *Hub) deliver(c *Client, msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		h.metrics.droppedFrames.Inc()
		return false
	}
}

func (h *Hub) drop(c *Client) {
	if h.clients[c.participantID] != c {
		return
	}
	c.log.Warn().Msg("Send buffer full, dropping client")
	h.handleUnregister(c)
}

func (h *Hub) queuePresence(op presenceOp) {
	select {
	case h.presenceOps <- op:
	default:
		h.log.Warn().Str("meeting_id", op.meetingID).Msg("Presence queue full, update skipped")
	}
}

// runPresence applies presence updates in order, off the hub goroutine.
func (h *Hub) runPresence() {
	for op := range h.presenceOps {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)

		var err error
		switch {
		case op.clear:
			err = h.presence.Clear(ctx, op.meetingID)
		case op.remove:
			err = h.presence.Remove(ctx, op.meetingID, op.participantID)
		default:
			err = h.presence.Add(ctx, op.meetingID, op.participantID)
		}
		cancel()

		if err != nil {
			h.log.Warn().Err(err).Str("meeting_id", op.meetingID).Msg("Presence update failed")
		}
	}
}
