package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetline/internal/app/directory"
	"meetline/internal/app/meeting"
	"meetline/internal/pkg/errs"
)

const meetingID = "abc-def-ghi"

type fakeDirectory struct {
	joinErr  error
	gate     chan struct{}
	started  chan struct{}
	joins    atomic.Int32
	leaves   atomic.Int32
	meetings atomic.Int32
}

func (d *fakeDirectory) Join(ctx context.Context, id, name, _ string) (directory.JoinResult, error) {
	d.joins.Add(1)
	if d.started != nil {
		select {
		case d.started <- struct{}{}:
		default:
		}
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return directory.JoinResult{}, ctx.Err()
		}
	}
	if d.joinErr != nil {
		return directory.JoinResult{}, d.joinErr
	}
	p := meeting.Participant{MeetingID: id, ParticipantID: "u-bob", DisplayName: name, Active: true}
	return directory.JoinResult{
		SessionToken: "session",
		Participant:  p,
		Meeting:      meeting.Meeting{ID: id, Name: "Standup", Active: true},
	}, nil
}

func (d *fakeDirectory) Leave(context.Context, string) error {
	d.leaves.Add(1)
	return nil
}

func (d *fakeDirectory) Meeting(_ context.Context, id string) (meeting.Meeting, error) {
	d.meetings.Add(1)
	if d.gate != nil {
		select {
		case d.started <- struct{}{}:
		default:
		}
		<-d.gate
	}
	return meeting.Meeting{ID: id}, nil
}

func (d *fakeDirectory) Participants(_ context.Context, id string) ([]meeting.Participant, error) {
	return []meeting.Participant{{MeetingID: id, ParticipantID: "u-alice"}, {MeetingID: id, ParticipantID: "u-bob"}}, nil
}

type fakeChannel struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	err          error
	// afterSubscribe runs once a subscription is recorded.
	afterSubscribe func()
}

func (c *fakeChannel) Subscribe(_ context.Context, id, _, token string) error {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.subscribed = append(c.subscribed, id+"|"+token)
	after := c.afterSubscribe
	c.mu.Unlock()

	if after != nil {
		after()
	}
	return nil
}

func (c *fakeChannel) Unsubscribe(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, id)
	return nil
}

func (c *fakeChannel) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribed), len(c.unsubscribed)
}

func TestJoin_MarksJoinedAndShortCircuits(t *testing.T) {
	dir := &fakeDirectory{}
	ch := &fakeChannel{}
	c := New(dir, ch, zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, StateNotJoined, c.State(meetingID))

	res, err := c.Join(ctx, meetingID, "Bob", "")
	require.NoError(t, err)
	assert.False(t, res.Simulated)
	assert.Equal(t, "session", res.SessionToken)
	assert.Len(t, res.Roster, 2)
	assert.Equal(t, StateJoined, c.State(meetingID))
	assert.Equal(t, []string{meetingID + "|session"}, ch.subscribed)

	again, err := c.Join(ctx, meetingID, "Bob", "")
	require.NoError(t, err)
	assert.Equal(t, res, again)
	assert.EqualValues(t, 1, dir.joins.Load())
}

func TestJoin_ConcurrentIdenticalJoinsShareOneCall(t *testing.T) {
	dir := &fakeDirectory{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	ch := &fakeChannel{}
	c := New(dir, ch, zerolog.Nop())

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Join(context.Background(), meetingID, "Bob", "")
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	<-dir.started
	time.Sleep(20 * time.Millisecond)
	close(dir.gate)
	wg.Wait()

	assert.EqualValues(t, 1, dir.joins.Load())
	subs, _ := ch.counts()
	assert.Equal(t, 1, subs)
	for _, res := range results {
		assert.Equal(t, results[0], res)
	}
}

func TestJoin_CallerCancellationDoesNotFailSharedJoin(t *testing.T) {
	dir := &fakeDirectory{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := New(dir, &fakeChannel{}, zerolog.Nop())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Join(first, meetingID, "Bob", "")
		firstErr <- err
	}()
	<-dir.started

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := c.Join(context.Background(), meetingID, "Bob", "")
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(dir.gate)
	got := <-second
	require.NoError(t, got.err)
	assert.False(t, got.res.Simulated)
	assert.Equal(t, "session", got.res.SessionToken)
	assert.Equal(t, StateJoined, c.State(meetingID))
	assert.EqualValues(t, 1, dir.joins.Load())
}

func TestJoin_CloseDuringJoinRollsBack(t *testing.T) {
	dir := &fakeDirectory{}
	ch := &fakeChannel{}
	c := New(dir, ch, zerolog.Nop())
	ctx := context.Background()

	ch.afterSubscribe = func() { assert.NoError(t, c.Close(ctx)) }

	_, err := c.Join(ctx, meetingID, "Bob", "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateNotJoined, c.State(meetingID))
	assert.EqualValues(t, 1, dir.leaves.Load())
	subs, unsubs := ch.counts()
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, unsubs)
}

func TestJoin_DegradesOnTransportAndServerErrors(t *testing.T) {
	tests := map[string]error{
		"transport":    errors.New("dial tcp: connection refused"),
		"server error": &errs.CustomError{Code: errs.ErrUnknown, Status: http.StatusBadGateway},
	}

	for name, joinErr := range tests {
		t.Run(name, func(t *testing.T) {
			ch := &fakeChannel{}
			c := New(&fakeDirectory{joinErr: joinErr}, ch, zerolog.Nop())

			res, err := c.Join(context.Background(), meetingID, "Bob", "")
			require.NoError(t, err)
			assert.True(t, res.Simulated)
			require.Len(t, res.Roster, 1)
			assert.Equal(t, LocalParticipantID, res.Roster[0].ParticipantID)
			assert.Equal(t, "Bob", res.Roster[0].DisplayName)

			// never marked joined, so a retry goes back to the network
			assert.Equal(t, StateNotJoined, c.State(meetingID))
			subs, _ := ch.counts()
			assert.Zero(t, subs)
		})
	}
}

func TestJoin_ReturnsTypedClientErrors(t *testing.T) {
	for _, code := range []int{errs.ErrMeetingFull, errs.ErrMeetingPassword, errs.ErrMeetingNotFound, errs.ErrMeetingExpired} {
		c := New(&fakeDirectory{joinErr: errs.NewError(code)}, &fakeChannel{}, zerolog.Nop())

		_, err := c.Join(context.Background(), meetingID, "Bob", "")
		assert.True(t, errs.HasCode(err, code), "code %d", code)
		assert.Equal(t, StateNotJoined, c.State(meetingID))
	}
}

func TestJoin_RejectsMalformedID(t *testing.T) {
	dir := &fakeDirectory{}
	c := New(dir, &fakeChannel{}, zerolog.Nop())

	_, err := c.Join(context.Background(), "abc-def", "Bob", "")
	assert.True(t, errs.HasCode(err, errs.ErrInvalidMeetingID))
	assert.Zero(t, dir.joins.Load())
}

func TestJoin_SubscribeFailureRollsBack(t *testing.T) {
	dir := &fakeDirectory{}
	c := New(dir, &fakeChannel{err: errors.New("socket closed")}, zerolog.Nop())

	_, err := c.Join(context.Background(), meetingID, "Bob", "")
	require.Error(t, err)
	assert.Equal(t, StateNotJoined, c.State(meetingID))
	assert.EqualValues(t, 1, dir.leaves.Load())
}

func TestLeaveAndRejoin(t *testing.T) {
	dir := &fakeDirectory{}
	ch := &fakeChannel{}
	c := New(dir, ch, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.Leave(ctx, meetingID))
	assert.Zero(t, dir.leaves.Load())

	_, err := c.Join(ctx, meetingID, "Bob", "")
	require.NoError(t, err)

	require.NoError(t, c.Leave(ctx, meetingID))
	assert.Equal(t, StateLeft, c.State(meetingID))
	assert.EqualValues(t, 1, dir.leaves.Load())
	_, unsubs := ch.counts()
	assert.Equal(t, 1, unsubs)

	_, err = c.Join(ctx, meetingID, "Bob", "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, dir.joins.Load())
}

func TestMeetingEndedClearsMark(t *testing.T) {
	dir := &fakeDirectory{}
	ch := &fakeChannel{}
	c := New(dir, ch, zerolog.Nop())

	_, err := c.Join(context.Background(), meetingID, "Bob", "")
	require.NoError(t, err)

	c.MeetingEnded(meetingID)
	assert.Equal(t, StateLeft, c.State(meetingID))
	_, unsubs := ch.counts()
	assert.Equal(t, 1, unsubs)
	assert.Zero(t, dir.leaves.Load())
}

func TestReadsAreDeduplicated(t *testing.T) {
	dir := &fakeDirectory{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := New(dir, &fakeChannel{}, zerolog.Nop())

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.Meeting(context.Background(), meetingID)
			assert.NoError(t, err)
			assert.Equal(t, meetingID, m.ID)
		}()
	}

	<-dir.started
	time.Sleep(50 * time.Millisecond)
	close(dir.gate)
	wg.Wait()

	assert.EqualValues(t, 1, dir.meetings.Load())
}

func TestCloseLeavesEverything(t *testing.T) {
	dir := &fakeDirectory{}
	c := New(dir, &fakeChannel{}, zerolog.Nop())
	ctx := context.Background()

	_, err := c.Join(ctx, meetingID, "Bob", "")
	require.NoError(t, err)
	_, err = c.Join(ctx, "xyz-xyz-xyz", "Bob", "")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.EqualValues(t, 2, dir.leaves.Load())
	assert.Equal(t, StateLeft, c.State(meetingID))

	_, err = c.Join(ctx, meetingID, "Bob", "")
	assert.ErrorIs(t, err, ErrClosed)
}
