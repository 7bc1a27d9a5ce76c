/*
Package signal defines the messages exchanged over the signaling channel: the
SignalEnvelope tagged variant and the event frames that carry it.
*/
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind tags the variant held by an Envelope.
type Kind string

const (
	KindOffer             Kind = "offer"
	KindAnswer            Kind = "answer"
	KindICECandidate      Kind = "ice_candidate"
	KindParticipantJoined Kind = "participant_joined"
	KindParticipantLeft   Kind = "participant_left"
)

var ErrInvalidEnvelope = errors.New("invalid signal envelope")

// Envelope carries one negotiation or presence message inside a meeting.
// From is always set by the relay, never trusted from the sender.
type Envelope struct {
	Type      Kind            `json:"type"`
	MeetingID string          `json:"meetingId"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// SDP is the payload of offers and answers.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the payload of ICE candidate messages.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Presence is the payload of participant joined/left messages.
type Presence struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName,omitempty"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func newEnvelope(kind Kind, meetingID, from, to string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, MeetingID: meetingID, From: from, To: to, Payload: raw}, nil
}

// NewDescription wraps an offer or answer addressed to to.
func NewDescription(meetingID, to string, desc webrtc.SessionDescription) (Envelope, error) {
	kind := KindOffer
	if desc.Type == webrtc.SDPTypeAnswer {
		kind = KindAnswer
	}
	return newEnvelope(kind, meetingID, "", to, SDPFromPion(desc))
}

// NewCandidate wraps a local ICE candidate addressed to to.
func NewCandidate(meetingID, to string, init webrtc.ICECandidateInit) (Envelope, error) {
	return newEnvelope(KindICECandidate, meetingID, "", to, CandidateFromPion(init))
}

// NewPresence builds a participant joined or left envelope sent by the relay.
func NewPresence(kind Kind, meetingID string, p Presence) (Envelope, error) {
	return newEnvelope(kind, meetingID, p.ParticipantID, "", p)
}

// SDP decodes the payload of an offer or answer.
func (e Envelope) SDP() (SDP, error) {
	var s SDP
	if err := strictDecode(e.Payload, &s); err != nil {
		return SDP{}, fmt.Errorf("%w: %s payload: %v", ErrInvalidEnvelope, e.Type, err)
	}
	return s, nil
}

// Candidate decodes the payload of an ICE candidate message.
func (e Envelope) Candidate() (Candidate, error) {
	var c Candidate
	if err := strictDecode(e.Payload, &c); err != nil {
		return Candidate{}, fmt.Errorf("%w: candidate payload: %v", ErrInvalidEnvelope, err)
	}
	return c, nil
}

// Presence decodes the payload of a participant joined or left message.
func (e Envelope) Presence() (Presence, error) {
	var p Presence
	if err := strictDecode(e.Payload, &p); err != nil {
		return Presence{}, fmt.Errorf("%w: presence payload: %v", ErrInvalidEnvelope, err)
	}
	return p, nil
}

// Validate checks that the payload matches the declared variant.
func (e Envelope) Validate() error {
	if e.MeetingID == "" {
		return fmt.Errorf("%w: missing meetingId", ErrInvalidEnvelope)
	}

	switch e.Type {
	case KindOffer, KindAnswer:
		s, err := e.SDP()
		if err != nil {
			return err
		}
		if s.Type != string(e.Type) {
			return fmt.Errorf("%w: %s carries sdp of type %q", ErrInvalidEnvelope, e.Type, s.Type)
		}
		if s.SDP == "" {
			return fmt.Errorf("%w: empty sdp", ErrInvalidEnvelope)
		}
	case KindICECandidate:
		if _, err := e.Candidate(); err != nil {
			return err
		}
	case KindParticipantJoined, KindParticipantLeft:
		p, err := e.Presence()
		if err != nil {
			return err
		}
		if p.ParticipantID == "" {
			return fmt.Errorf("%w: missing participantId", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, e.Type)
	}

	return nil
}

// ClientSendable reports whether a client may originate this variant.
// Presence variants are produced by the relay only.
func (e Envelope) ClientSendable() bool {
	switch e.Type {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	default:
		return false
	}
}

func strictDecode(raw []byte, dst any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}
