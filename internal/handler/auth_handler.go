/*
Package handler provides HTTP handler functions for account registration, login and
credential lifecycle.
*/
package handler

import (
	"net/http"

	"meetline/internal/app/auth"
	"meetline/internal/app/user"
	"meetline/internal/pkg/errs"
	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/req"
	"meetline/internal/pkg/resp"
)

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CheckResult is the body of GET /auth/check. It is never an error.
type CheckResult struct {
	Authenticated bool       `json:"authenticated"`
	User          *user.User `json:"user,omitempty"`
}

// HandleRegister creates an account and signs the new user in.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input RegisterInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		u, err := deps.Users.Register(r.Context(), input.Name, input.Email, input.Password)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		if !signIn(w, r, deps, u) {
			return
		}

		logx.Info("User registered", "user_id", u.ID)
		resp.RespondCreated(w, r, u)
	}
}

// HandleLogin checks the password and sets both credential cookies.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		u, err := deps.Users.Login(r.Context(), input.Email, input.Password)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		if !signIn(w, r, deps, u) {
			return
		}

		logx.Info("User logged in", "user_id", u.ID)
		resp.RespondSuccess(w, r, u)
	}
}

func signIn(w http.ResponseWriter, r *http.Request, deps *AppDeps, u user.User) bool {
	pair, err := deps.Auth.Issue(auth.Subject{ID: u.ID, Email: u.Email})
	if err != nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
		return false
	}
	if err := deps.Auth.SetAuthCookies(w, pair); err != nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
		return false
	}
	return true
}

// HandleRefreshToken issues a new access cookie from the refresh cookie. Any
// failure clears both cookies so the client has to log in again.
func HandleRefreshToken(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, rotated, err := deps.Auth.Refresh(r)
		if err != nil {
			deps.Auth.ClearAuthCookies(w)
			resp.RespondErr(w, r, err)
			return
		}

		deps.Auth.SetAccessCookie(w, rotated)

		u, err := deps.Users.Get(r.Context(), claims.Subject)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, u)
	}
}

// HandleMe returns the signed-in account.
func HandleMe(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := auth.SubjectFrom(r.Context())
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		u, err := deps.Users.Get(r.Context(), sub.ID)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}
		resp.RespondSuccess(w, r, u)
	}
}

// HandleCheck reports whether the request carries a usable credential,
// rotating the access cookie along the way when needed.
func HandleCheck(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, rotated, err := deps.Auth.Authenticate(r)
		if err != nil {
			resp.RespondSuccess(w, r, CheckResult{})
			return
		}

		u, err := deps.Users.Get(r.Context(), claims.Subject)
		if err != nil {
			resp.RespondSuccess(w, r, CheckResult{})
			return
		}

		if rotated != "" {
			deps.Auth.SetAccessCookie(w, rotated)
		}
		resp.RespondSuccess(w, r, CheckResult{Authenticated: true, User: &u})
	}
}

func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Auth.Revoke(w)
		resp.RespondSuccess(w, r, nil)
	}
}
