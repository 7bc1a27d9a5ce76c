package apiclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meetline/internal/app/signal"
)

const writeWait = 10 * time.Second

// ErrClosed is returned when sending on a closed signaling channel.
var ErrClosed = errors.New("signaling channel closed")

// Signaling is the client end of the signaling websocket. Sends may be called
// from any goroutine; frames are delivered by Run.
type Signaling struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Dial opens the signaling channel with the client's credential cookies.
func (c *Client) Dial(ctx context.Context) (*Signaling, error) {
	dialer := websocket.Dialer{
		Jar:              c.http.Jar,
		HandshakeTimeout: requestTimeout,
	}

	conn, res, err := dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("dial signaling: %w (status %d)", err, res.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	return &Signaling{conn: conn}, nil
}

// Subscribe joins the relay room of a meeting the caller already joined over HTTP.
func (s *Signaling) Subscribe(_ context.Context, meetingID, displayName, sessionToken string) error {
	return s.write(signal.EventJoinMeeting, signal.JoinMeetingData{
		MeetingID:    meetingID,
		DisplayName:  displayName,
		SessionToken: sessionToken,
	})
}

func (s *Signaling) Unsubscribe(_ context.Context, meetingID string) error {
	return s.write(signal.EventLeaveMeeting, signal.LeaveMeetingData{MeetingID: meetingID})
}

// Send forwards a negotiation envelope through the relay.
func (s *Signaling) Send(env signal.Envelope) error {
	return s.write(signal.EventSignal, env)
}

func (s *Signaling) Chat(meetingID, message, participantName string) error {
	return s.write(signal.EventChat, signal.ChatData{
		MeetingID:       meetingID,
		Message:         message,
		ParticipantName: participantName,
	})
}

func (s *Signaling) write(event signal.Event, data any) error {
	msg, err := signal.Encode(event, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Run reads frames and passes them to handle, one at a time and in arrival
// order, until the connection closes or ctx is done.
func (s *Signaling) Run(ctx context.Context, handle func(signal.Frame)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		f, err := signal.Decode(msg)
		if err != nil {
			continue
		}
		handle(f)
	}
}

// Close says goodbye to the server and closes the connection. Safe to call twice.
func (s *Signaling) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return s.conn.Close()
}
