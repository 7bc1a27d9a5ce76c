package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names a frame on the signaling websocket.
type Event string

// Client to server.
const (
	EventJoinMeeting  Event = "join_meeting"
	EventLeaveMeeting Event = "leave_meeting"
	EventSignal       Event = "webrtc_signal"
	EventChat         Event = "chat_message"
)

// Server to client. EventSignal and EventChat are also delivered to clients.
const (
	EventJoined            Event = "joined_meeting"
	EventParticipantJoined Event = "participant_joined"
	EventParticipantLeft   Event = "participant_left"
	EventMeetingEnded      Event = "meeting_ended"
	EventError             Event = "error"
)

// MaxChatLength bounds chat message bodies in bytes.
const MaxChatLength = 5000

// Frame is one websocket text message.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinMeetingData struct {
	MeetingID    string `json:"meetingId"`
	DisplayName  string `json:"displayName,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type LeaveMeetingData struct {
	MeetingID string `json:"meetingId"`
}

// JoinedData acknowledges join_meeting with who is connected right now.
type JoinedData struct {
	MeetingID    string     `json:"meetingId"`
	Participants []Presence `json:"participants"`
}

// ChatData is sent by clients with MeetingID, Message and ParticipantName;
// the relay fills in the rest before forwarding.
type ChatData struct {
	ID              string    `json:"id,omitempty"`
	MeetingID       string    `json:"meetingId"`
	Message         string    `json:"message"`
	ParticipantName string    `json:"participantName,omitempty"`
	From            string    `json:"from,omitempty"`
	SentAt          time.Time `json:"sentAt,omitzero"`
}

type MeetingEndedData struct {
	MeetingID string `json:"meetingId"`
}

type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   Event  `json:"event,omitempty"`
}

// Encode builds the wire form of a frame.
func Encode(event Event, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Decode parses a frame without interpreting its data.
func Decode(msg []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event")
	}
	return f, nil
}

// Bind strictly decodes the frame data into dst.
func (f Frame) Bind(dst any) error {
	if err := strictDecode(f.Data, dst); err != nil {
		return fmt.Errorf("%s data: %w", f.Event, err)
	}
	return nil
}
