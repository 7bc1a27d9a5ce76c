/*
Package coordinator tracks which meetings a client session has joined. It
coalesces duplicate join requests, deduplicates idempotent reads, and falls back
to a local simulated room when the server cannot be reached.
*/
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"meetline/internal/app/directory"
	"meetline/internal/app/meeting"
	"meetline/internal/pkg/errs"
)

// State is the join state of one meeting.
type State string

const (
	StateNotJoined State = "not-joined"
	StateJoining   State = "joining"
	StateJoined    State = "joined"
	StateLeft      State = "left"
)

// LocalParticipantID identifies the caller in a simulated room.
const LocalParticipantID = "local"

var ErrClosed = errors.New("coordinator closed")

// joinTimeout bounds a shared join; it outlives any single caller's context.
const joinTimeout = 15 * time.Second

// Directory is the remote session directory as seen by a client.
type Directory interface {
	Join(ctx context.Context, meetingID, participantName, password string) (directory.JoinResult, error)
	Leave(ctx context.Context, meetingID string) error
	Meeting(ctx context.Context, meetingID string) (meeting.Meeting, error)
	Participants(ctx context.Context, meetingID string) ([]meeting.Participant, error)
}

// Channel is the signaling subscription for joined meetings.
type Channel interface {
	Subscribe(ctx context.Context, meetingID, displayName, sessionToken string) error
	Unsubscribe(ctx context.Context, meetingID string) error
}

// Result describes a join. Simulated results come from a degraded join and
// hold only the local participant.
type Result struct {
	Meeting      meeting.Meeting
	Participant  meeting.Participant
	SessionToken string
	Roster       []meeting.Participant
	Simulated    bool
}

// Coordinator is scoped to one client session. Create it with New and tear it
// down with Close.
type Coordinator struct {
	dir Directory
	ch  Channel
	log zerolog.Logger
	now func() time.Time

	joins singleflight.Group
	reads singleflight.Group

	mu     sync.Mutex
	states map[string]State
	joined map[string]Result
	closed bool
}

func New(dir Directory, ch Channel, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		dir:    dir,
		ch:     ch,
		log:    logger.With().Str("component", "coordinator").Logger(),
		now:    time.Now,
		states: make(map[string]State),
		joined: make(map[string]Result),
	}
}

// State reports the join state of meetingID.
func (c *Coordinator) State(meetingID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[meetingID]; ok {
		return s
	}
	return StateNotJoined
}

// Join joins meetingID as name. A meeting already joined returns the earlier
// result without a network call, and concurrent identical joins share one call.
// Cancelling ctx abandons the wait but not a call other callers may share.
func (c *Coordinator) Join(ctx context.Context, meetingID, name, password string) (Result, error) {
	if !meeting.ValidID(meetingID) {
		return Result{}, errs.NewError(errs.ErrInvalidMeetingID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrClosed
	}
	if res, ok := c.joined[meetingID]; ok {
		c.mu.Unlock()
		return res, nil
	}
	c.mu.Unlock()

	ch := c.joins.DoChan("join|"+meetingID+"|"+name, func() (any, error) {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), joinTimeout)
		defer cancel()
		return c.join(jctx, meetingID, name, password)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			c.log.Debug().Str("meeting_id", meetingID).Msg("Join coalesced with an in-flight request")
		}
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

func (c *Coordinator) join(ctx context.Context, meetingID, name, password string) (Result, error) {
	c.mu.Lock()
	if res, ok := c.joined[meetingID]; ok {
		c.mu.Unlock()
		return res, nil
	}
	prev := c.stateLocked(meetingID)
	c.states[meetingID] = StateJoining
	c.mu.Unlock()

	restore := func() {
		c.mu.Lock()
		c.states[meetingID] = prev
		c.mu.Unlock()
	}

	jr, err := c.dir.Join(ctx, meetingID, name, password)
	if err != nil {
		restore()
		if !degradable(err) {
			return Result{}, err
		}
		c.log.Warn().Err(err).Str("meeting_id", meetingID).Msg("Directory unreachable, continuing in a simulated room")
		return c.simulated(meetingID, name), nil
	}

	if err := c.ch.Subscribe(ctx, meetingID, name, jr.SessionToken); err != nil {
		restore()
		c.rollback(ctx, meetingID, false)
		return Result{}, err
	}

	res := Result{
		Meeting:      jr.Meeting,
		Participant:  jr.Participant,
		SessionToken: jr.SessionToken,
		Roster:       []meeting.Participant{jr.Participant},
	}
	if roster, err := c.Participants(ctx, meetingID); err == nil {
		res.Roster = roster
	}

	c.mu.Lock()
	if c.closed {
		c.states[meetingID] = prev
		c.mu.Unlock()
		c.rollback(ctx, meetingID, true)
		return Result{}, ErrClosed
	}
	c.states[meetingID] = StateJoined
	c.joined[meetingID] = res
	c.mu.Unlock()

	c.log.Info().Str("meeting_id", meetingID).Str("participant_id", jr.Participant.ParticipantID).Msg("Joined meeting")
	return res, nil
}

// rollback undoes the remote side of a join that will not be recorded.
func (c *Coordinator) rollback(ctx context.Context, meetingID string, subscribed bool) {
	ctx = context.WithoutCancel(ctx)
	if subscribed {
		if err := c.ch.Unsubscribe(ctx, meetingID); err != nil {
			c.log.Warn().Err(err).Str("meeting_id", meetingID).Msg("Rollback unsubscribe failed")
		}
	}
	if err := c.dir.Leave(ctx, meetingID); err != nil {
		c.log.Warn().Err(err).Str("meeting_id", meetingID).Msg("Rollback leave failed")
	}
}

func (c *Coordinator) stateLocked(meetingID string) State {
	if s, ok := c.states[meetingID]; ok {
		return s
	}
	return StateNotJoined
}

func (c *Coordinator) simulated(meetingID, name string) Result {
	now := c.now().UTC()
	self := meeting.Participant{
		MeetingID:     meetingID,
		ParticipantID: LocalParticipantID,
		DisplayName:   name,
		JoinedAt:      now,
		Active:        true,
	}
	return Result{
		Meeting: meeting.Meeting{
			ID:              meetingID,
			Name:            meetingID,
			HostID:          LocalParticipantID,
			HostName:        name,
			IsPublic:        true,
			MaxParticipants: meeting.DefaultMaxParticipants,
			CreatedAt:       now,
			Active:          true,
		},
		Participant: self,
		Roster:      []meeting.Participant{self},
		Simulated:   true,
	}
}

// degradable reports whether a failed join should fall back to a simulated
// room: network failures and server errors do, typed client errors do not.
func degradable(err error) bool {
	var ce *errs.CustomError
	if errors.As(err, &ce) {
		return ce.Status >= http.StatusInternalServerError
	}
	return true
}

// Leave leaves a joined meeting. Leaving a meeting that is not joined is a no-op.
func (c *Coordinator) Leave(ctx context.Context, meetingID string) error {
	if !c.clear(meetingID) {
		return nil
	}

	if err := c.ch.Unsubscribe(ctx, meetingID); err != nil {
		c.log.Debug().Err(err).Str("meeting_id", meetingID).Msg("Unsubscribe failed")
	}
	if err := c.dir.Leave(ctx, meetingID); err != nil {
		return err
	}

	c.log.Info().Str("meeting_id", meetingID).Msg("Left meeting")
	return nil
}

// MeetingEnded handles the server's notice that meetingID is over for this
// session: the host ended it or removed the participant.
func (c *Coordinator) MeetingEnded(meetingID string) {
	if !c.clear(meetingID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ch.Unsubscribe(ctx, meetingID); err != nil {
		c.log.Debug().Err(err).Str("meeting_id", meetingID).Msg("Unsubscribe failed")
	}

	c.log.Info().Str("meeting_id", meetingID).Msg("Meeting ended")
}

// clear drops the joined mark and reports whether there was one.
func (c *Coordinator) clear(meetingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.joined[meetingID]; !ok {
		return false
	}
	delete(c.joined, meetingID)
	c.states[meetingID] = StateLeft
	return true
}

// Meeting fetches a meeting, sharing the call with identical concurrent reads.
func (c *Coordinator) Meeting(ctx context.Context, meetingID string) (meeting.Meeting, error) {
	v, err, _ := c.reads.Do("meeting|"+meetingID, func() (any, error) {
		return c.dir.Meeting(ctx, meetingID)
	})
	if err != nil {
		return meeting.Meeting{}, err
	}
	return v.(meeting.Meeting), nil
}

// Participants lists a meeting's participants, sharing the call with identical
// concurrent reads.
func (c *Coordinator) Participants(ctx context.Context, meetingID string) ([]meeting.Participant, error) {
	v, err, _ := c.reads.Do("participants|"+meetingID, func() (any, error) {
		return c.dir.Participants(ctx, meetingID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]meeting.Participant), nil
}

// Close leaves every joined meeting. The coordinator refuses new joins afterwards.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var errList []error
	for _, id := range ids {
		if err := c.Leave(ctx, id); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
