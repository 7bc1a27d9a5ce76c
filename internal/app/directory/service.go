/*
Package directory is the session directory: the authoritative registry of
meetings and their participants. It enforces capacity, expiry and password
gating on join, and host-only rights on end and kick.
*/
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"meetline/internal/app/auth"
	"meetline/internal/app/meeting"
	"meetline/internal/pkg/errs"
	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/randx"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	// createAttempts bounds id regeneration on collisions.
	createAttempts = 5

	maxNameLength = 100
)

// SessionIssuer issues the meeting-scoped credential returned by Join.
type SessionIssuer interface {
	IssueSession(sub auth.Subject, meetingID, participantID string) (string, error)
}

// EventSink is told about membership changes made outside the signaling
// channel so connected clients can be notified.
type EventSink interface {
	MeetingEnded(meetingID string)
	ParticipantRemoved(meetingID, participantID string)
}

// CreateInput describes a meeting to create.
type CreateInput struct {
	Name            string
	HostName        string
	IsPublic        bool
	Password        string
	MaxParticipants int
	DurationMinutes int
}

// JoinResult is returned by a successful Join.
type JoinResult struct {
	SessionToken string              `json:"sessionToken"`
	Participant  meeting.Participant `json:"participant"`
	Meeting      meeting.Meeting     `json:"meeting"`
}

// Service implements the directory operations on top of a Store.
type Service struct {
	store    Store
	sessions SessionIssuer
	now      func() time.Time
	log      zerolog.Logger

	mu   sync.RWMutex
	sink EventSink
}

// NewService returns a Service. The event sink can be attached later with SetEventSink.
func NewService(store Store, sessions SessionIssuer) *Service {
	return &Service{
		store:    store,
		sessions: sessions,
		now:      time.Now,
		log:      logx.Component("directory"),
	}
}

// WithClock replaces the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SetEventSink attaches the listener for end, kick, leave and expiry events.
func (s *Service) SetEventSink(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Service) eventSink() EventSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

// CreateRoom creates a meeting hosted by host.
func (s *Service) CreateRoom(ctx context.Context, host auth.Subject, in CreateInput) (meeting.Meeting, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return meeting.Meeting{}, errs.NewError(errs.ErrMissingField, "name")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return meeting.Meeting{}, errs.NewError(errs.ErrInvalidParams)
	}

	maxParticipants := in.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = meeting.DefaultMaxParticipants
	}
	if maxParticipants < meeting.MinMaxParticipants || maxParticipants > meeting.MaxMaxParticipants {
		return meeting.Meeting{}, errs.NewError(errs.ErrInvalidParams)
	}

	if in.DurationMinutes < 0 || in.DurationMinutes > meeting.MaxDurationMinutes {
		return meeting.Meeting{}, errs.NewError(errs.ErrInvalidParams)
	}

	hostName := strings.TrimSpace(in.HostName)
	if hostName == "" {
		hostName = host.Email
	}

	now := s.now().UTC()
	m := meeting.Meeting{
		Name:            name,
		HostID:          host.ID,
		HostName:        hostName,
		IsPublic:        in.IsPublic,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		Active:          true,
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return meeting.Meeting{}, errs.NewError(errs.ErrUnknown, fmt.Errorf("hash meeting password: %w", err))
		}
		m.PasswordHash = string(hash)
	}

	if in.DurationMinutes > 0 {
		expires := now.Add(time.Duration(in.DurationMinutes) * time.Minute)
		m.ExpiresAt = &expires
	}

	for attempt := 1; attempt <= createAttempts; attempt++ {
		id, err := randx.MeetingID()
		if err != nil {
			return meeting.Meeting{}, errs.NewError(errs.ErrUnknown, err)
		}
		m.ID = id

		err = s.store.CreateMeeting(ctx, m)
		if err == nil {
			s.log.Info().
				Str("meeting_id", m.ID).
				Str("host_id", host.ID).
				Int("max_participants", m.MaxParticipants).
				Bool("public", m.IsPublic).
				Msg("Meeting created")
			return m, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return meeting.Meeting{}, errs.NewError(errs.ErrUnknown, err)
		}

		s.log.Warn().Str("meeting_id", id).Int("attempt", attempt).Msg("Meeting id collision, regenerating")
	}

	return meeting.Meeting{}, errs.NewError(errs.ErrUnknown, errors.New("could not allocate a unique meeting id"))
}

// FindRoom returns the meeting with id, active or not.
func (s *Service) FindRoom(ctx context.Context, id string) (meeting.Meeting, error) {
	if !meeting.ValidID(id) {
		return meeting.Meeting{}, errs.NewError(errs.ErrInvalidMeetingID)
	}

	m, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return meeting.Meeting{}, storeError(err)
	}
	return m, nil
}

// Join admits sub into the meeting under displayName and issues a session credential.
func (s *Service) Join(ctx context.Context, meetingID string, sub auth.Subject, displayName, password string) (JoinResult, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return JoinResult{}, errs.NewError(errs.ErrMissingField, "participantName")
	}
	if utf8.RuneCountInString(displayName) > maxNameLength {
		return JoinResult{}, errs.NewError(errs.ErrInvalidParams)
	}

	m, err := s.FindRoom(ctx, meetingID)
	if err != nil {
		return JoinResult{}, err
	}

	now := s.now().UTC()
	switch {
	case !m.Active:
		return JoinResult{}, errs.NewError(errs.ErrMeetingNotFound)
	case m.Expired(now):
		return JoinResult{}, errs.NewError(errs.ErrMeetingExpired)
	}

	if m.HasPassword() {
		if password == "" || bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)) != nil {
			return JoinResult{}, errs.NewError(errs.ErrMeetingPassword)
		}
	}

	p, err := s.store.AddParticipant(ctx, meeting.Participant{
		MeetingID:     m.ID,
		ParticipantID: sub.ID,
		DisplayName:   displayName,
		JoinedAt:      now,
		Active:        true,
	}, now)
	if err != nil {
		return JoinResult{}, storeError(err)
	}

	token, err := s.sessions.IssueSession(sub, m.ID, p.ParticipantID)
	if err != nil {
		return JoinResult{}, errs.NewError(errs.ErrUnknown, err)
	}

	s.log.Info().
		Str("meeting_id", m.ID).
		Str("participant_id", p.ParticipantID).
		Msg("Participant joined")

	return JoinResult{SessionToken: token, Participant: p, Meeting: m}, nil
}

// Leave marks the participant inactive. Leaving twice is not an error.
func (s *Service) Leave(ctx context.Context, meetingID, participantID string) error {
	if !meeting.ValidID(meetingID) {
		return errs.NewError(errs.ErrInvalidMeetingID)
	}

	err := s.store.DeactivateParticipant(ctx, meetingID, participantID, s.now().UTC())
	switch {
	case errors.Is(err, ErrParticipantNotFound):
		return nil
	case err != nil:
		return storeError(err)
	}

	s.log.Info().Str("meeting_id", meetingID).Str("participant_id", participantID).Msg("Participant left")

	if sink := s.eventSink(); sink != nil {
		sink.ParticipantRemoved(meetingID, participantID)
	}
	return nil
}

// Kick removes participantID from the meeting. Only the host may kick.
func (s *Service) Kick(ctx context.Context, meetingID, requesterID, participantID string) error {
	m, err := s.requireHost(ctx, meetingID, requesterID)
	if err != nil {
		return err
	}

	if err := s.store.DeactivateParticipant(ctx, m.ID, participantID, s.now().UTC()); err != nil {
		return storeError(err)
	}

	s.log.Info().Str("meeting_id", m.ID).Str("participant_id", participantID).Msg("Participant kicked")

	if sink := s.eventSink(); sink != nil {
		sink.ParticipantRemoved(m.ID, participantID)
	}
	return nil
}

// End deactivates the meeting and all its participants. Only the host may end.
func (s *Service) End(ctx context.Context, meetingID, requesterID string) error {
	m, err := s.requireHost(ctx, meetingID, requesterID)
	if err != nil {
		return err
	}

	if err := s.store.EndMeeting(ctx, m.ID, s.now().UTC()); err != nil {
		return storeError(err)
	}

	s.log.Info().Str("meeting_id", m.ID).Msg("Meeting ended by host")

	if sink := s.eventSink(); sink != nil {
		sink.MeetingEnded(m.ID)
	}
	return nil
}

func (s *Service) requireHost(ctx context.Context, meetingID, requesterID string) (meeting.Meeting, error) {
	m, err := s.FindRoom(ctx, meetingID)
	if err != nil {
		return meeting.Meeting{}, err
	}
	if !m.Active {
		return meeting.Meeting{}, errs.NewError(errs.ErrMeetingNotFound)
	}
	if m.HostID != requesterID {
		return meeting.Meeting{}, errs.NewError(errs.ErrNotHost)
	}
	return m, nil
}

// Participants lists the active participants, oldest joined first.
func (s *Service) Participants(ctx context.Context, meetingID string) ([]meeting.Participant, error) {
	if _, err := s.FindRoom(ctx, meetingID); err != nil {
		return nil, err
	}

	list, err := s.store.ListActiveParticipants(ctx, meetingID)
	if err != nil {
		return nil, storeError(err)
	}
	return list, nil
}

// IsActiveParticipant reports whether participantID currently holds an active
// seat in the meeting. The signaling relay uses it to authorize room joins.
func (s *Service) IsActiveParticipant(ctx context.Context, meetingID, participantID string) (bool, error) {
	if !meeting.ValidID(meetingID) {
		return false, nil
	}
	return s.store.IsActiveParticipant(ctx, meetingID, participantID)
}

// ExpireDue ends every meeting past its expiry and notifies the event sink.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	ids, err := s.store.ExpireMeetings(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	sink := s.eventSink()
	for _, id := range ids {
		s.log.Info().Str("meeting_id", id).Msg("Meeting expired")
		if sink != nil {
			sink.MeetingEnded(id)
		}
	}
	return len(ids), nil
}

// storeError maps Store errors onto the error taxonomy.
func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return errs.NewError(errs.ErrMeetingNotFound)
	case errors.Is(err, ErrExpired):
		return errs.NewError(errs.ErrMeetingExpired)
	case errors.Is(err, ErrFull):
		return errs.NewError(errs.ErrMeetingFull)
	case errors.Is(err, ErrParticipantNotFound):
		return errs.NewError(errs.ErrParticipantNotFound)
	default:
		return errs.NewError(errs.ErrUnknown, err)
	}
}
