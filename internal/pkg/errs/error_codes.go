/*
Package errs provides custom error types and application-level error code constants.

Every code belongs to exactly one kind of the error taxonomy (validation, authentication,
authorization, lookup, conflict, expiry, internal). The kind decides the HTTP status.
*/
package errs

// 1xxx: Validation and request handling errors (HTTP 400 / 429)
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrMissingField indicates that a required field was absent or empty.
	ErrMissingField = 1005

	// ErrInvalidMeetingID indicates a meeting id that does not match the xxx-xxx-xxx format.
	ErrInvalidMeetingID = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrInvalidSignal indicates a signaling frame whose shape or kind is not accepted.
	ErrInvalidSignal = 1008

	// ErrMessageContentTooLong indicates that a chat message exceeded the maximum length limit.
	ErrMessageContentTooLong = 1009
)

// 2xxx: Meeting directory errors
const (
	// ErrMeetingNotFound indicates that the meeting does not exist or is no longer active.
	ErrMeetingNotFound = 2101

	// ErrMeetingFull indicates that the meeting reached its maximum participant count.
	ErrMeetingFull = 2102

	// ErrMeetingExpired indicates that the meeting's expiry time has passed.
	ErrMeetingExpired = 2103

	// ErrMeetingPassword indicates a missing or wrong password for a private meeting.
	ErrMeetingPassword = 2104

	// ErrNotHost indicates a host-only action attempted by another participant.
	ErrNotHost = 2105

	// ErrNotParticipant indicates that the caller is not an active participant of the meeting.
	ErrNotParticipant = 2106

	// ErrParticipantNotFound indicates that the participant is absent from the meeting.
	ErrParticipantNotFound = 2107
)

// 3xxx: User, credential and session errors
const (
	// ErrUnauthorized indicates a missing, invalid or expired credential.
	ErrUnauthorized = 3001

	// ErrInvalidCredentials indicates a wrong email/password pair.
	ErrInvalidCredentials = 3002

	// ErrUserAlreadyExists indicates that the email is already registered.
	ErrUserAlreadyExists = 3003

	// ErrUserNotFound indicates that the subject no longer exists.
	ErrUserNotFound = 3004

	// ErrInvalidPassword indicates a password that violates the length policy.
	ErrInvalidPassword = 3005

	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = 3006

	// ErrSessionReplaced indicates that the connection was superseded by a newer one.
	ErrSessionReplaced = 3007
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
