package directory

import (
	"context"
	"errors"
	"time"

	"meetline/internal/app/meeting"
)

// Errors returned by Store implementations.
var (
	ErrDuplicateID         = errors.New("meeting id already taken")
	ErrNotFound            = errors.New("meeting not found or inactive")
	ErrExpired             = errors.New("meeting expired")
	ErrFull                = errors.New("meeting is full")
	ErrParticipantNotFound = errors.New("no active participant")
)

// Store is the persistence contract of the session directory.
//
// AddParticipant must be atomic: it checks the meeting is active and not
// expired, counts the active participants other than p, rejects at capacity,
// and inserts or reactivates the (meeting, participant) row, all as one unit.
type Store interface {
	CreateMeeting(ctx context.Context, m meeting.Meeting) error
	GetMeeting(ctx context.Context, id string) (meeting.Meeting, error)

	AddParticipant(ctx context.Context, p meeting.Participant, now time.Time) (meeting.Participant, error)
	DeactivateParticipant(ctx context.Context, meetingID, participantID string, now time.Time) error

	// EndMeeting deactivates the meeting and all of its participants in one unit.
	EndMeeting(ctx context.Context, meetingID string, now time.Time) error

	// ListActiveParticipants orders by join time, oldest first.
	ListActiveParticipants(ctx context.Context, meetingID string) ([]meeting.Participant, error)
	IsActiveParticipant(ctx context.Context, meetingID, participantID string) (bool, error)

	// ExpireMeetings ends every active meeting expired at now and returns their ids.
	ExpireMeetings(ctx context.Context, now time.Time) ([]string, error)
}
