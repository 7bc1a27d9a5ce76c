package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// LinkState is the negotiation state of one Link.
type LinkState string

const (
	LinkNew         LinkState = "new"
	LinkNegotiating LinkState = "negotiating"
	LinkStable      LinkState = "stable"
	LinkConnected   LinkState = "connected"
	LinkFailed      LinkState = "failed"
	LinkClosed      LinkState = "closed"
)

// Link is the connection to one remote participant.
type Link struct {
	remoteID string
	conn     Conn
	video    Sender

	// guarded by the orchestrator lock
	makingOffer bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit

	mu     sync.Mutex
	state  LinkState
	tracks []RemoteTrack
}

func newLink(remoteID string, conn Conn) *Link {
	return &Link{remoteID: remoteID, conn: conn, state: LinkNew}
}

func (l *Link) RemoteID() string { return l.remoteID }

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Tracks returns the remote tracks received so far.
func (l *Link) Tracks() []RemoteTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RemoteTrack(nil), l.tracks...)
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return
	}
	l.state = s
}

// settle moves a link out of negotiation without hiding a transport state
// reported by the connection.
func (l *Link) settle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkNew || l.state == LinkNegotiating {
		l.state = LinkStable
	}
}

func (l *Link) addTrack(t RemoteTrack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = append(l.tracks, t)
}

func (l *Link) close() error {
	l.mu.Lock()
	l.state = LinkClosed
	l.mu.Unlock()
	return l.conn.Close()
}

func connState(s webrtc.PeerConnectionState) (LinkState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return LinkConnected, true
	case webrtc.PeerConnectionStateFailed:
		return LinkFailed, true
	case webrtc.PeerConnectionStateClosed:
		return LinkClosed, true
	default:
		return "", false
	}
}
