/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/resp"
)

// HandleWebSocket authenticates the credential cookies and hands the upgraded
// connection to the relay hub. Rooms are joined later with join_meeting frames.
func HandleWebSocket(deps *AppDeps, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _, err := deps.Auth.Authenticate(r)
		if err != nil {
			logx.Info("WebSocket connection rejected: not authenticated")
			resp.RespondErr(w, r, err)
			return
		}

		logx.Info("Attempting to upgrade connection", "participant_id", claims.Subject)
		deps.Hub.ServeWS(upgrader, w, r, claims.Subject)
	}
}
