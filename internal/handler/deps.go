package handler

import (
	"github.com/prometheus/client_golang/prometheus"

	"meetline/internal/app/auth"
	"meetline/internal/app/directory"
	"meetline/internal/app/relay"
	"meetline/internal/app/user"
	"meetline/internal/configs"
)

type AppDeps struct {
	Config    *configs.AppConfig
	Auth      *auth.Manager
	Users     *user.Service
	Directory *directory.Service
	Hub       *relay.Hub
	Metrics   prometheus.Gatherer
}
