/*
Package meeting defines the Meeting and Participant records of the session
directory together with meeting id validation and shareable links.
*/
package meeting

import (
	"net/url"
	"strings"
	"time"

	"meetline/internal/pkg/randx"
)

const (
	// DefaultMaxParticipants applies when a meeting is created without a capacity.
	DefaultMaxParticipants = 50

	// MinMaxParticipants and MaxMaxParticipants bound an explicit capacity.
	MinMaxParticipants = 2
	MaxMaxParticipants = 50

	// MaxDurationMinutes bounds the optional meeting duration.
	MaxDurationMinutes = 24 * 60

	// LinkPath is the path prefix of shareable meeting links.
	LinkPath = "/meeting/"
)

// Meeting is the addressable unit that scopes membership and signaling.
type Meeting struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	HostID          string     `json:"hostId"`
	HostName        string     `json:"hostName"`
	IsPublic        bool       `json:"isPublic"`
	PasswordHash    string     `json:"-"`
	MaxParticipants int        `json:"maxParticipants"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Active          bool       `json:"active"`
}

// HasPassword reports whether joining requires a password.
// Public meetings never do, and a private meeting without a hash is open.
func (m Meeting) HasPassword() bool {
	return !m.IsPublic && m.PasswordHash != ""
}

// Expired reports whether the meeting has passed its expiry at now.
func (m Meeting) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Participant is one occupant of a meeting. ParticipantID is the account id of
// the occupant, so one account holds at most one row per meeting.
type Participant struct {
	MeetingID     string     `json:"meetingId"`
	ParticipantID string     `json:"participantId"`
	DisplayName   string     `json:"displayName"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LeftAt        *time.Time `json:"leftAt,omitempty"`
	Active        bool       `json:"active"`
}

// ValidID reports whether id has the xxx-xxx-xxx meeting id format.
func ValidID(id string) bool {
	return randx.IsValidMeetingID(id)
}

// Link builds the shareable link for id under baseURL.
func Link(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + LinkPath + id
}

// ExtractID returns the meeting id at the end of a shareable link, or the
// input itself when it is a bare id. ok is false when the result is not a
// well-formed meeting id.
func ExtractID(link string) (id string, ok bool) {
	candidate := strings.TrimSpace(link)

	if u, err := url.Parse(candidate); err == nil && (u.Scheme != "" || strings.Contains(u.Path, "/")) {
		candidate = u.Path
	}

	candidate = strings.TrimRight(candidate, "/")
	if i := strings.LastIndex(candidate, "/"); i >= 0 {
		candidate = candidate[i+1:]
	}

	if !ValidID(candidate) {
		return "", false
	}
	return candidate, true
}
