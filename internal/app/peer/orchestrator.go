/*
Package peer runs the client side of media negotiation: one Link per remote
participant, driven by offers, answers and ICE candidates delivered through the
signaling channel.
*/
package peer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"meetline/internal/app/signal"
)

var ErrClosed = errors.New("orchestrator closed")

// Candidates may arrive before the offer that opens their link; this many are
// held per remote, for at most maxEarlyRemotes remotes.
const (
	maxEarlyCandidates = 64
	maxEarlyRemotes    = 32
)

// Signaler delivers envelopes to the relay.
type Signaler interface {
	Send(env signal.Envelope) error
}

// TrackHandler receives remote tracks as they arrive.
type TrackHandler func(remoteID string, track RemoteTrack)

type Options struct {
	Self      string
	MeetingID string
	Factory   Factory
	Signaler  Signaler
	// Media may be nil for a receive-only participant.
	Media   MediaSource
	OnTrack TrackHandler
	Logger  zerolog.Logger
}

// Orchestrator owns every Link of one participant in one meeting. Its
// operations are serialized; connection callbacks only touch link state.
type Orchestrator struct {
	self      string
	meetingID string
	factory   Factory
	sig       Signaler
	media     MediaSource
	onTrack   TrackHandler
	log       zerolog.Logger

	mu     sync.Mutex
	links  map[string]*Link
	early  map[string][]webrtc.ICECandidateInit
	local  *LocalMedia
	screen *LocalMedia
	closed bool
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		self:      opts.Self,
		meetingID: opts.MeetingID,
		factory:   opts.Factory,
		sig:       opts.Signaler,
		media:     opts.Media,
		onTrack:   opts.OnTrack,
		log:       opts.Logger.With().Str("component", "peer").Str("meeting_id", opts.MeetingID).Logger(),
		links:     make(map[string]*Link),
		early:     make(map[string][]webrtc.ICECandidateInit),
	}
}

// Start captures local media. Links created before Start carry no outgoing tracks.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.media == nil {
		return nil
	}

	local, err := o.media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		local.Release()
		return ErrClosed
	}
	if o.local != nil {
		local.Release()
		return nil
	}
	o.local = local
	return nil
}

// ParticipantJoined opens a link to a newly arrived participant and sends it an offer.
func (o *Orchestrator) ParticipantJoined(_ context.Context, p signal.Presence) error {
	if p.ParticipantID == "" || p.ParticipantID == o.self {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	// a rejoin from the same participant starts over
	if old, ok := o.links[p.ParticipantID]; ok {
		o.dropLocked(old)
	}
	delete(o.early, p.ParticipantID)

	link, err := o.openLocked(p.ParticipantID)
	if err != nil {
		return err
	}
	return o.offerLocked(link)
}

// ParticipantLeft closes the link to id, if any.
func (o *Orchestrator) ParticipantLeft(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.early, id)
	if link, ok := o.links[id]; ok {
		o.dropLocked(link)
		o.log.Info().Str("remote_id", id).Msg("Peer link closed")
	}
}

// HandleSignal applies one envelope received from the relay.
func (o *Orchestrator) HandleSignal(ctx context.Context, env signal.Envelope) error {
	if env.MeetingID != o.meetingID {
		o.log.Debug().Str("other_meeting", env.MeetingID).Msg("Ignoring signal for another meeting")
		return nil
	}

	switch env.Type {
	case signal.KindParticipantJoined:
		p, err := env.Presence()
		if err != nil {
			return err
		}
		return o.ParticipantJoined(ctx, p)
	case signal.KindParticipantLeft:
		p, err := env.Presence()
		if err != nil {
			return err
		}
		o.ParticipantLeft(p.ParticipantID)
		return nil
	}

	if env.From == "" || env.From == o.self {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	switch env.Type {
	case signal.KindOffer:
		return o.handleOfferLocked(env)
	case signal.KindAnswer:
		return o.handleAnswerLocked(env)
	case signal.KindICECandidate:
		return o.handleCandidateLocked(env)
	default:
		return fmt.Errorf("%w: unknown type %q", signal.ErrInvalidEnvelope, env.Type)
	}
}

func (o *Orchestrator) handleOfferLocked(env signal.Envelope) error {
	desc, err := describe(env)
	if err != nil {
		return err
	}

	link, ok := o.links[env.From]
	if !ok {
		if link, err = o.openLocked(env.From); err != nil {
			return err
		}
	}

	if link.makingOffer {
		// both sides offered; the smaller id yields
		if o.self > env.From {
			o.log.Debug().Str("remote_id", env.From).Msg("Ignoring colliding offer")
			return nil
		}
		if err := link.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
		link.makingOffer = false
		o.log.Debug().Str("remote_id", env.From).Msg("Rolled back local offer")
	}

	if err := o.applyRemoteLocked(link, desc); err != nil {
		return err
	}

	answer, err := link.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := link.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	link.settle()

	out, err := signal.NewDescription(o.meetingID, link.remoteID, answer)
	if err != nil {
		return err
	}
	return o.sig.Send(out)
}

func (o *Orchestrator) handleAnswerLocked(env signal.Envelope) error {
	link, ok := o.links[env.From]
	if !ok {
		o.log.Warn().Str("remote_id", env.From).Msg("Answer for unknown peer link")
		return nil
	}
	if !link.makingOffer {
		o.log.Debug().Str("remote_id", env.From).Msg("Answer without an outstanding offer")
		return nil
	}

	desc, err := describe(env)
	if err != nil {
		return err
	}
	if err := o.applyRemoteLocked(link, desc); err != nil {
		return err
	}
	link.makingOffer = false
	link.settle()
	return nil
}

func (o *Orchestrator) handleCandidateLocked(env signal.Envelope) error {
	c, err := env.Candidate()
	if err != nil {
		return err
	}
	init := c.ToPion()

	link, ok := o.links[env.From]
	if !ok {
		o.holdEarlyLocked(env.From, init)
		return nil
	}

	if !link.remoteSet {
		link.pending = append(link.pending, init)
		return nil
	}
	if err := link.conn.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// holdEarlyLocked keeps a candidate whose offer has not arrived yet. openLocked
// hands it to the link.
func (o *Orchestrator) holdEarlyLocked(remoteID string, init webrtc.ICECandidateInit) {
	held, ok := o.early[remoteID]
	if (!ok && len(o.early) >= maxEarlyRemotes) || len(held) >= maxEarlyCandidates {
		o.log.Debug().Str("remote_id", remoteID).Msg("Dropping candidate for unknown peer link")
		return
	}
	o.early[remoteID] = append(held, init)
}

func (o *Orchestrator) applyRemoteLocked(link *Link, desc webrtc.SessionDescription) error {
	if err := link.conn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	link.remoteSet = true

	pending := link.pending
	link.pending = nil
	for _, c := range pending {
		if err := link.conn.AddICECandidate(c); err != nil {
			o.log.Warn().Err(err).Str("remote_id", link.remoteID).Msg("Queued candidate rejected")
		}
	}
	return nil
}

func (o *Orchestrator) openLocked(remoteID string) (*Link, error) {
	conn, err := o.factory(remoteID)
	if err != nil {
		return nil, err
	}
	link := newLink(remoteID, conn)
	link.pending = o.early[remoteID]
	delete(o.early, remoteID)

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		env, err := signal.NewCandidate(o.meetingID, remoteID, c)
		if err != nil {
			return
		}
		if err := o.sig.Send(env); err != nil {
			o.log.Debug().Err(err).Str("remote_id", remoteID).Msg("Failed to send candidate")
		}
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ls, ok := connState(s); ok {
			link.setState(ls)
			o.log.Debug().Str("remote_id", remoteID).Str("state", string(ls)).Msg("Peer link state changed")
		}
	})
	conn.OnTrack(func(t RemoteTrack) {
		link.addTrack(t)
		if o.onTrack != nil {
			o.onTrack(remoteID, t)
		}
	})

	if err := o.attachLocked(link); err != nil {
		_ = conn.Close()
		return nil, err
	}

	o.links[remoteID] = link
	return link, nil
}

func (o *Orchestrator) attachLocked(link *Link) error {
	if o.local == nil {
		return nil
	}
	if o.local.Audio != nil {
		if _, err := link.conn.AddTrack(o.local.Audio); err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	if video := o.videoLocked(); video != nil {
		sender, err := link.conn.AddTrack(video)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		link.video = sender
	}
	return nil
}

func (o *Orchestrator) videoLocked() webrtc.TrackLocal {
	if o.screen != nil && o.screen.Video != nil {
		return o.screen.Video
	}
	if o.local != nil {
		return o.local.Video
	}
	return nil
}

func (o *Orchestrator) offerLocked(link *Link) error {
	offer, err := link.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := link.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	link.makingOffer = true
	link.setState(LinkNegotiating)

	env, err := signal.NewDescription(o.meetingID, link.remoteID, offer)
	if err != nil {
		return err
	}
	return o.sig.Send(env)
}

func (o *Orchestrator) dropLocked(link *Link) {
	delete(o.links, link.remoteID)
	if err := link.close(); err != nil {
		o.log.Debug().Err(err).Str("remote_id", link.remoteID).Msg("Close peer link")
	}
}

// ToggleScreenShare swaps the outgoing video on every link between the camera
// and a screen capture. It reports whether the screen is now being shared.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, ErrClosed
	}
	if o.screen != nil {
		screen := o.screen
		o.screen = nil
		err := o.replaceVideoLocked()
		o.mu.Unlock()
		screen.Release()
		return false, err
	}
	o.mu.Unlock()

	if o.media == nil {
		return false, errors.New("no media source")
	}
	// blocks on the capture prompt; other events may run meanwhile
	screen, err := o.media.AcquireScreen(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire screen: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		screen.Release()
		return false, ErrClosed
	}
	if o.screen != nil {
		screen.Release()
		return true, nil
	}
	o.screen = screen
	return true, o.replaceVideoLocked()
}

func (o *Orchestrator) replaceVideoLocked() error {
	video := o.videoLocked()

	var errList []error
	for _, link := range o.links {
		if link.video == nil {
			continue
		}
		if err := link.video.ReplaceTrack(video); err != nil {
			errList = append(errList, fmt.Errorf("replace track for %s: %w", link.remoteID, err))
		}
	}
	return errors.Join(errList...)
}

// Link returns the link to remoteID.
func (o *Orchestrator) Link(remoteID string) (*Link, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.links[remoteID]
	return l, ok
}

// States snapshots the state of every link.
func (o *Orchestrator) States() map[string]LinkState {
	o.mu.Lock()
	links := maps.Clone(o.links)
	o.mu.Unlock()

	out := make(map[string]LinkState, len(links))
	for id, l := range links {
		out[id] = l.State()
	}
	return out
}

// Close closes every link and releases local media. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, link := range o.links {
		o.dropLocked(link)
	}
	clear(o.early)
	local, screen := o.local, o.screen
	o.local, o.screen = nil, nil
	o.mu.Unlock()

	screen.Release()
	local.Release()
	o.log.Info().Msg("Peer orchestrator closed")
}

func describe(env signal.Envelope) (webrtc.SessionDescription, error) {
	s, err := env.SDP()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return s.ToPion()
}
