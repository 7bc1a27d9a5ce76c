/*
Package handler provides HTTP handler functions for creating, joining and ending meetings.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"meetline/internal/app/auth"
	"meetline/internal/app/directory"
	"meetline/internal/app/meeting"
	"meetline/internal/pkg/errs"
	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/req"
	"meetline/internal/pkg/resp"
)

type CreateMeetingInput struct {
	Name            string `json:"name"`
	HostName        string `json:"hostName,omitempty"`
	IsPublic        bool   `json:"isPublic"`
	Password        string `json:"password,omitempty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

type JoinMeetingInput struct {
	ParticipantName string `json:"participantName"`
	Password        string `json:"password,omitempty"`
}

// MeetingView is a meeting plus its shareable link.
type MeetingView struct {
	Meeting meeting.Meeting `json:"meeting"`
	Link    string          `json:"link"`
}

// ParticipantView annotates a participant with whether it has a live signaling connection.
type ParticipantView struct {
	meeting.Participant
	Connected bool `json:"connected"`
}

// requireMeetingID rejects malformed {id} parameters before any lookup.
func requireMeetingID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !meeting.ValidID(chi.URLParam(r, "id")) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidMeetingID))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func subject(w http.ResponseWriter, r *http.Request) (auth.Subject, bool) {
	sub, ok := auth.SubjectFrom(r.Context())
	if !ok {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
	}
	return sub, ok
}

// HandleCreateMeeting creates a meeting hosted by the caller.
func HandleCreateMeeting(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}

		var input CreateMeetingInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		m, err := deps.Directory.CreateRoom(r.Context(), sub, directory.CreateInput{
			Name:            input.Name,
			HostName:        input.HostName,
			IsPublic:        input.IsPublic,
			Password:        input.Password,
			MaxParticipants: input.MaxParticipants,
			DurationMinutes: input.DurationMinutes,
		})
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondCreated(w, r, MeetingView{Meeting: m, Link: meeting.Link(deps.Config.PublicBaseURL, m.ID)})
	}
}

func HandleGetMeeting(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Directory.FindRoom(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, MeetingView{Meeting: m, Link: meeting.Link(deps.Config.PublicBaseURL, m.ID)})
	}
}

// HandleJoinMeeting admits the caller and returns a meeting-scoped session credential.
func HandleJoinMeeting(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}

		var input JoinMeetingInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		result, err := deps.Directory.Join(r.Context(), chi.URLParam(r, "id"), sub, input.ParticipantName, input.Password)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, result)
	}
}

func HandleLeaveMeeting(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}

		if err := deps.Directory.Leave(r.Context(), chi.URLParam(r, "id"), sub.ID); err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, nil)
	}
}

// HandleEndMeeting ends the meeting. Host only.
func HandleEndMeeting(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}

		if err := deps.Directory.End(r.Context(), chi.URLParam(r, "id"), sub.ID); err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, nil)
	}
}

// HandleKickParticipant removes another participant. Host only.
func HandleKickParticipant(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}

		target := chi.URLParam(r, "participantId")
		if target == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrMissingField, "participantId"))
			return
		}

		if err := deps.Directory.Kick(r.Context(), chi.URLParam(r, "id"), sub.ID, target); err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, nil)
	}
}

// HandleListParticipants lists active participants, flagging those connected to signaling.
func HandleListParticipants(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := chi.URLParam(r, "id")

		list, err := deps.Directory.Participants(r.Context(), meetingID)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		connected := make(map[string]bool)
		if deps.Hub != nil {
			ids, err := deps.Hub.Connected(r.Context(), meetingID)
			if err != nil {
				logx.Warn("Connected lookup failed", "meeting_id", meetingID, "error", err.Error())
			}
			for _, id := range ids {
				connected[id] = true
			}
		}

		views := make([]ParticipantView, 0, len(list))
		for _, p := range list {
			views = append(views, ParticipantView{Participant: p, Connected: connected[p.ParticipantID]})
		}
		resp.RespondSuccess(w, r, views)
	}
}
