/*
Package handler provides the HTTP handlers and routing setup for the meetline server.

This file defines the main Router, applying middleware for logging, CORS and IP-based
rate limiting before delegating requests to the API and WebSocket handlers.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"meetline/internal/pkg/limiter"
	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/resp"
)

const (
	CreateRate  = 0.05
	CreateBurst = 2
	JoinRate    = 0.2
	JoinBurst   = 5
	AuthRate    = 0.1
	AuthBurst   = 5
	WSRate      = 0.5
	WSBurst     = 5
)

// Router sets up the HTTP routing table. The limiters stop their cleanup
// goroutines when ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	createLimiter := limiter.NewIPRateLimiter(ctx, "create", rate.Limit(CreateRate), CreateBurst)
	joinLimiter := limiter.NewIPRateLimiter(ctx, "join", rate.Limit(JoinRate), JoinBurst)
	authLimiter := limiter.NewIPRateLimiter(ctx, "auth", rate.Limit(AuthRate), AuthBurst)
	wsLimiter := limiter.NewIPRateLimiter(ctx, "ws", rate.Limit(WSRate), WSBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "meetline",
		})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/auth", func(a chi.Router) {
		a.With(authLimiter.Middleware).Post("/register", HandleRegister(deps))
		a.With(authLimiter.Middleware).Post("/login", HandleLogin(deps))
		a.Post("/refresh-token", HandleRefreshToken(deps))
		a.Get("/check", HandleCheck(deps))
		a.Post("/logout", HandleLogout(deps))
		a.With(deps.Auth.RequireAuth).Get("/me", HandleMe(deps))
	})

	r.Route("/meetings", func(m chi.Router) {
		m.Use(deps.Auth.RequireAuth)

		m.With(createLimiter.Middleware).Post("/create", HandleCreateMeeting(deps))

		m.Route("/{id}", func(one chi.Router) {
			one.Use(requireMeetingID)

			one.Get("/", HandleGetMeeting(deps))
			one.With(joinLimiter.Middleware).Post("/join", HandleJoinMeeting(deps))
			one.Post("/leave", HandleLeaveMeeting(deps))
			one.Post("/end", HandleEndMeeting(deps))
			one.Get("/participants", HandleListParticipants(deps))
			one.Post("/participants/{participantId}/kick", HandleKickParticipant(deps))
		})
	})

	r.With(wsLimiter.Middleware).Get("/ws", HandleWebSocket(deps, wsUpgrader))

	return r
}
