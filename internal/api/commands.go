package api

import (
	"log/slog"
	"net/http"
	"strings"

	"DeafFirst-Hub/internal/command"
)

type commandRequest struct {
	Command  string         `json:"command"`
	UserID   string         `json:"user_id"`
	Platform string         `json:"platform"`
	Context  map[string]any `json:"context"`
}

var rejectHints = map[string]*command.Hints{
	"command": {Icon: "alert-circle", Color: "red", Animation: "shake", Vibrate: true},
	"user":    {Icon: "user-x", Color: "red", Animation: "shake", Vibrate: true},
}

// handleCommand 处理网页小程序渠道的命令。
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(w, r, s.maxBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":          command.StatusError,
			"message":         "Command is required",
			"visual_feedback": rejectHints["command"],
		})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":          command.StatusError,
			"message":         "User ID is required",
			"visual_feedback": rejectHints["user"],
		})
		return
	}
	if req.Platform == "" {
		req.Platform = "web"
	}

	res := s.router.Resolve(r.Context(), command.Parse(req.Command, req.UserID, req.Platform, req.Context))
	s.logger.Info("命令处理完成",
		slog.String("kind", res.Kind.String()),
		slog.String("platform", req.Platform),
		slog.String("user_id", req.UserID),
		slog.String("status", string(res.Status)),
	)
	writeJSON(w, http.StatusOK, res)
}
