package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetline/internal/app/signal"
	"meetline/internal/pkg/errs"
)

const meetingID = "abc-def-ghi"

type fakeDirectory struct {
	mu     sync.Mutex
	active map[string]bool
	leaves []string
}

func newFakeDirectory(participants ...string) *fakeDirectory {
	d := &fakeDirectory{active: make(map[string]bool)}
	for _, p := range participants {
		d.active[meetingID+"/"+p] = true
	}
	return d
}

func (d *fakeDirectory) IsActiveParticipant(_ context.Context, m, p string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[m+"/"+p], nil
}

func (d *fakeDirectory) Leave(_ context.Context, m, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, m+"/"+p)
	d.leaves = append(d.leaves, p)
	return nil
}

func (d *fakeDirectory) left() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.leaves...)
}

func startHub(t *testing.T, dir Directory, opts Options) (*Hub, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(dir, opts)
	go h.Run(ctx)

	upgrader := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(upgrader, w, r, r.URL.Query().Get("pid"))
	}))

	t.Cleanup(func() {
		cancel()
		srv.Close()
		h.Wait()
	})

	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, participantID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?pid="+participantID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event signal.Event, data any) {
	t.Helper()
	msg, err := signal.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

func next(t *testing.T, conn *websocket.Conn) signal.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := signal.Decode(msg)
	require.NoError(t, err)
	return f
}

func expect[T any](t *testing.T, conn *websocket.Conn, event signal.Event) T {
	t.Helper()
	f := next(t, conn)
	require.Equal(t, event, f.Event, "frame data: %s", f.Data)
	var out T
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}

// expectSilence must be the last read on conn; a timed out read breaks it.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, msg, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame: %s", msg)
}

func join(t *testing.T, conn *websocket.Conn, name string) signal.JoinedData {
	t.Helper()
	send(t, conn, signal.EventJoinMeeting, signal.JoinMeetingData{MeetingID: meetingID, DisplayName: name})
	return expect[signal.JoinedData](t, conn, signal.EventJoined)
}

func offerTo(t *testing.T, to string) signal.Envelope {
	t.Helper()
	env, err := signal.NewDescription(meetingID, to, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	require.NoError(t, err)
	return env
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestHub_RoutesTargetedAndBroadcastSignals(t *testing.T) {
	metrics := NewMetrics(nil)
	_, url := startHub(t, newFakeDirectory("alice", "bob"), Options{Metrics: metrics})

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	ack := join(t, alice, "Alice")
	assert.Equal(t, []signal.Presence{{ParticipantID: "alice", DisplayName: "Alice"}}, ack.Participants)

	ack = join(t, bob, "Bob")
	assert.Len(t, ack.Participants, 2)

	joined := expect[signal.Envelope](t, alice, signal.EventParticipantJoined)
	assert.Equal(t, signal.KindParticipantJoined, joined.Type)
	assert.Equal(t, "bob", joined.From)

	// a forged From is overwritten
	offer := offerTo(t, "bob")
	offer.From = "mallory"
	send(t, alice, signal.EventSignal, offer)

	got := expect[signal.Envelope](t, bob, signal.EventSignal)
	assert.Equal(t, signal.KindOffer, got.Type)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, "bob", got.To)

	cand, err := signal.NewCandidate(meetingID, "", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"})
	require.NoError(t, err)
	send(t, bob, signal.EventSignal, cand)

	got = expect[signal.Envelope](t, alice, signal.EventSignal)
	assert.Equal(t, signal.KindICECandidate, got.Type)
	assert.Equal(t, "bob", got.From)

	assert.Equal(t, 1.0, counterValue(t, metrics.signals.WithLabelValues("offer")))
	assert.Equal(t, 1.0, counterValue(t, metrics.signals.WithLabelValues("ice_candidate")))

	// senders never receive their own broadcast
	expectSilence(t, bob)
}

func TestHub_RejectsUnauthorizedJoin(t *testing.T) {
	_, url := startHub(t, newFakeDirectory("alice"), Options{})

	carol := dial(t, url, "carol")
	send(t, carol, signal.EventJoinMeeting, signal.JoinMeetingData{MeetingID: meetingID})

	e := expect[signal.ErrorData](t, carol, signal.EventError)
	assert.Equal(t, errs.ErrNotParticipant, e.Code)
	assert.Equal(t, signal.EventJoinMeeting, e.Event)

	// signaling a room one has not joined is refused as well
	send(t, carol, signal.EventSignal, offerTo(t, "alice"))
	e = expect[signal.ErrorData](t, carol, signal.EventError)
	assert.Equal(t, errs.ErrNotParticipant, e.Code)
	assert.Equal(t, signal.EventSignal, e.Event)
}

func TestHub_RejectsMalformedFrames(t *testing.T) {
	_, url := startHub(t, newFakeDirectory("alice"), Options{})
	alice := dial(t, url, "alice")
	join(t, alice, "Alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	e := expect[signal.ErrorData](t, alice, signal.EventError)
	assert.Equal(t, errs.ErrInvalidJSONFormat, e.Code)

	presence, err := signal.NewPresence(signal.KindParticipantLeft, meetingID, signal.Presence{ParticipantID: "bob"})
	require.NoError(t, err)
	send(t, alice, signal.EventSignal, presence)
	e = expect[signal.ErrorData](t, alice, signal.EventError)
	assert.Equal(t, errs.ErrInvalidSignal, e.Code)

	send(t, alice, signal.EventChat, signal.ChatData{MeetingID: meetingID, Message: strings.Repeat("x", signal.MaxChatLength+1)})
	e = expect[signal.ErrorData](t, alice, signal.EventError)
	assert.Equal(t, errs.ErrMessageContentTooLong, e.Code)

	send(t, alice, "dance", struct{}{})
	e = expect[signal.ErrorData](t, alice, signal.EventError)
	assert.Equal(t, errs.ErrInvalidParams, e.Code)
}

func TestHub_ChatCarriesSenderIdentity(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, url := startHub(t, newFakeDirectory("alice", "bob"), Options{Now: func() time.Time { return now }})

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "Alice")
	join(t, bob, "Bob")
	expect[signal.Envelope](t, alice, signal.EventParticipantJoined)

	send(t, alice, signal.EventChat, signal.ChatData{MeetingID: meetingID, Message: "hi", ParticipantName: "Not Alice"})

	msg := expect[signal.ChatData](t, bob, signal.EventChat)
	assert.Equal(t, "hi", msg.Message)
	assert.Equal(t, "Alice", msg.ParticipantName)
	assert.Equal(t, "alice", msg.From)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, now.Equal(msg.SentAt))

	expectSilence(t, alice)
}

func TestHub_DisconnectReleasesParticipant(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	h, url := startHub(t, dir, Options{})

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "Alice")
	join(t, bob, "Bob")
	expect[signal.Envelope](t, alice, signal.EventParticipantJoined)

	require.NoError(t, bob.Close())

	left := expect[signal.Envelope](t, alice, signal.EventParticipantLeft)
	p, err := left.Presence()
	require.NoError(t, err)
	assert.Equal(t, "bob", p.ParticipantID)
	assert.Equal(t, "Bob", p.DisplayName)

	require.Eventually(t, func() bool {
		return len(dir.left()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"bob"}, dir.left())

	ids, err := h.Connected(context.Background(), meetingID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}

func TestHub_LeaveMeetingKeepsDirectoryMembership(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	_, url := startHub(t, dir, Options{})

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "Alice")
	join(t, bob, "Bob")
	expect[signal.Envelope](t, alice, signal.EventParticipantJoined)

	send(t, bob, signal.EventLeaveMeeting, signal.LeaveMeetingData{MeetingID: meetingID})
	expect[signal.Envelope](t, alice, signal.EventParticipantLeft)

	// bob may come back on the same connection
	join(t, bob, "Bob")
	expect[signal.Envelope](t, alice, signal.EventParticipantJoined)
	assert.Empty(t, dir.left())
}

func TestHub_NewConnectionReplacesOld(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	_, url := startHub(t, dir, Options{})

	first := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, first, "Alice")
	join(t, bob, "Bob")
	expect[signal.Envelope](t, first, signal.EventParticipantJoined)

	second := dial(t, url, "alice")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseCodeSessionReplaced, closeErr.Code)

	// the new connection inherited the room without rejoining
	send(t, second, signal.EventSignal, offerTo(t, "bob"))
	got := expect[signal.Envelope](t, bob, signal.EventSignal)
	assert.Equal(t, "alice", got.From)

	assert.Empty(t, dir.left())
	expectSilence(t, bob)
}

func TestHub_MeetingEnded(t *testing.T) {
	h, url := startHub(t, newFakeDirectory("alice", "bob"), Options{})

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "Alice")
	join(t, bob, "Bob")
	expect[signal.Envelope](t, alice, signal.EventParticipantJoined)

	h.MeetingEnded(meetingID)

	for _, conn := range []*websocket.Conn{alice, bob} {
		ended := expect[signal.MeetingEndedData](t, conn, signal.EventMeetingEnded)
		assert.Equal(t, meetingID, ended.MeetingID)
	}

	ids, err := h.Connected(context.Background(), meetingID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHub_JoinAfterMeetingEndedIsRefused(t *testing.T) {
	// the directory still lists alice, as it would for a join checked just
	// before the meeting ended
	h, url := startHub(t, newFakeDirectory("alice"), Options{})

	h.MeetingEnded(meetingID)

	alice := dial(t, url, "alice")
	send(t, alice, signal.EventJoinMeeting, signal.JoinMeetingData{MeetingID: meetingID, DisplayName: "Alice"})

	e := expect[signal.ErrorData](t, alice, signal.EventError)
	assert.Equal(t, errs.ErrMeetingNotFound, e.Code)
	assert.Equal(t, signal.EventJoinMeeting, e.Event)

	ids, err := h.Connected(context.Background(), meetingID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHub_ParticipantRemoved(t *testing.T) {
	h, url := startHub(t, newFakeDirectory("alice", "bob"), Options{})

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "Alice")
	join(t, bob, "Bob")
	expect[signal.Envelope](t, alice, signal.EventParticipantJoined)

	h.ParticipantRemoved(meetingID, "bob")

	for _, conn := range []*websocket.Conn{alice, bob} {
		left := expect[signal.Envelope](t, conn, signal.EventParticipantLeft)
		assert.Equal(t, "bob", left.From)
	}

	// removed participants can no longer signal into the room
	send(t, bob, signal.EventSignal, offerTo(t, "alice"))
	e := expect[signal.ErrorData](t, bob, signal.EventError)
	assert.Equal(t, errs.ErrNotParticipant, e.Code)
}
