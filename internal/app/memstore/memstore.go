/*
Package memstore is an in-memory implementation of the account and directory
stores. It backs development servers started without DATABASE_URL and the
directory tests. One mutex serializes all operations, which gives
AddParticipant and EndMeeting the same atomicity as the PostgreSQL store's
transactions.
*/
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"meetline/internal/app/directory"
	"meetline/internal/app/meeting"
	"meetline/internal/app/user"
)

type participantKey struct {
	meetingID     string
	participantID string
}

// Store holds users, meetings and participants in maps.
type Store struct {
	mu sync.Mutex

	users        map[string]user.User
	usersByEmail map[string]string

	meetings     map[string]meeting.Meeting
	participants map[participantKey]meeting.Participant
}

var (
	_ user.Store      = (*Store)(nil)
	_ directory.Store = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		meetings:     make(map[string]meeting.Meeting),
		participants: make(map[participantKey]meeting.Participant),
	}
}

func (s *Store) CreateUser(_ context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByEmail[u.Email]; taken {
		return user.ErrDuplicateEmail
	}
	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) CreateMeeting(_ context.Context, m meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.meetings[m.ID]; taken {
		return directory.ErrDuplicateID
	}
	s.meetings[m.ID] = m
	return nil
}

func (s *Store) GetMeeting(_ context.Context, id string) (meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return meeting.Meeting{}, directory.ErrNotFound
	}
	return m, nil
}

func (s *Store) AddParticipant(_ context.Context, p meeting.Participant, now time.Time) (meeting.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[p.MeetingID]
	switch {
	case !ok || !m.Active:
		return meeting.Participant{}, directory.ErrNotFound
	case m.Expired(now):
		return meeting.Participant{}, directory.ErrExpired
	}

	others := 0
	for k, row := range s.participants {
		if k.meetingID == p.MeetingID && k.participantID != p.ParticipantID && row.Active {
			others++
		}
	}
	if others >= m.MaxParticipants {
		return meeting.Participant{}, directory.ErrFull
	}

	key := participantKey{p.MeetingID, p.ParticipantID}
	row, exists := s.participants[key]
	switch {
	case !exists:
		row = p
	case row.Active:
		row.DisplayName = p.DisplayName
	default:
		row.DisplayName = p.DisplayName
		row.JoinedAt = p.JoinedAt
	}
	row.Active = true
	row.LeftAt = nil

	s.participants[key] = row
	return row, nil
}

func (s *Store) DeactivateParticipant(_ context.Context, meetingID, participantID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey{meetingID, participantID}
	row, ok := s.participants[key]
	if !ok || !row.Active {
		return directory.ErrParticipantNotFound
	}

	row.Active = false
	row.LeftAt = &now
	s.participants[key] = row
	return nil
}

func (s *Store) EndMeeting(_ context.Context, meetingID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		return directory.ErrNotFound
	}
	s.endLocked(m, now)
	return nil
}

func (s *Store) endLocked(m meeting.Meeting, now time.Time) {
	m.Active = false
	s.meetings[m.ID] = m

	for k, row := range s.participants {
		if k.meetingID == m.ID && row.Active {
			row.Active = false
			left := now
			row.LeftAt = &left
			s.participants[k] = row
		}
	}
}

func (s *Store) ListActiveParticipants(_ context.Context, meetingID string) ([]meeting.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]meeting.Participant, 0)
	for k, row := range s.participants {
		if k.meetingID == meetingID && row.Active {
			list = append(list, row)
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ParticipantID < list[j].ParticipantID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list, nil
}

func (s *Store) IsActiveParticipant(_ context.Context, meetingID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.participants[participantKey{meetingID, participantID}]
	return ok && row.Active, nil
}

func (s *Store) ExpireMeetings(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, m := range s.meetings {
		if m.Active && m.Expired(now) {
			s.endLocked(m, now)
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
