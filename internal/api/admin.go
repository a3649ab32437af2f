package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"DeafFirst-Hub/internal/auth"
	"DeafFirst-Hub/internal/connectors"
	xerrors "DeafFirst-Hub/internal/errors"
	"DeafFirst-Hub/internal/eventlog"
	"DeafFirst-Hub/pkg/plugin"
)

var (
	errNoRegistry = xerrors.New(xerrors.CodeUnknown, "连接器注册表未配置", xerrors.WithMetadata("component", "registry"))
	errNoEvents   = xerrors.New(xerrors.CodeUnknown, "分发日志不可查询", xerrors.WithMetadata("component", "eventlog"))
)

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, errNoRegistry)
		return
	}
	var t plugin.CapabilityType
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := plugin.ParseCapabilityType(raw)
		if err != nil {
			writeError(w, connectors.Classify(err))
			return
		}
		t = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": s.registry.List(t)})
}

// connectorKey 解析路径中的能力类型与连接器名。
func connectorKey(r *http.Request) (plugin.CapabilityType, string, error) {
	t, err := plugin.ParseCapabilityType(chi.URLParam(r, "type"))
	if err != nil {
		return "", "", connectors.Classify(err)
	}
	return t, chi.URLParam(r, "name"), nil
}

func notFound(t plugin.CapabilityType, name string) error {
	return xerrors.New(xerrors.CodeConnectorNotFound, "连接器不存在",
		xerrors.WithMetadata("type", string(t)),
		xerrors.WithMetadata("name", name),
	)
}

func (s *Server) handleSetConnectorEnabled(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, errNoRegistry)
		return
	}
	t, name, err := connectorKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(w, r, s.maxBodyBytes, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "enabled 字段必填"))
		return
	}
	if !s.registry.SetEnabled(t, name, *body.Enabled) {
		writeError(w, notFound(t, name))
		return
	}
	s.logger.Info("连接器状态已更新",
		slog.String("type", string(t)),
		slog.String("name", name),
		slog.Bool("enabled", *body.Enabled),
		slog.String("subject", subjectName(r)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"type": t, "name": name, "enabled": *body.Enabled})
}

func (s *Server) handleUnregisterConnector(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, errNoRegistry)
		return
	}
	t, name, err := connectorKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.registry.Unregister(t, name) {
		writeError(w, notFound(t, name))
		return
	}
	s.logger.Info("连接器已注销",
		slog.String("type", string(t)),
		slog.String("name", name),
		slog.String("subject", subjectName(r)),
	)
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Verb string          `json:"verb"`
	Args json.RawMessage `json:"args"`
}

func (s *Server) handleExecuteConnector(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, errNoRegistry)
		return
	}
	t, name, err := connectorKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body executeRequest
	if err := decodeBody(w, r, s.maxBodyBytes, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := plugin.DecodeRequest(t, strings.TrimSpace(body.Verb), body.Args)
	if err != nil {
		writeError(w, connectors.Classify(err))
		return
	}
	res, err := s.registry.Execute(r.Context(), t, name, req)
	if err != nil {
		writeError(w, connectors.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, errNoEvents)
		return
	}
	q := r.URL.Query()
	opts := []eventlog.ListOption{
		eventlog.WithPlatform(q.Get("platform")),
		eventlog.WithStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数"))
			return
		}
		opts = append(opts, eventlog.WithLimit(limit))
	}
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeError(w, err)
		return
	}
	opts = append(opts, eventlog.WithSince(since))

	entries, err := s.events.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, errNoEvents)
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.events.Stats(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseSince 接受 RFC3339 时间或 Unix 秒，空值表示不限。
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.New(xerrors.CodeInvalidArgument, "since 必须是 RFC3339 或 Unix 秒")
	}
	return t, nil
}

func subjectName(r *http.Request) string {
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		return subject.Name
	}
	return ""
}
