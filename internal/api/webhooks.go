package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"DeafFirst-Hub/internal/webhook"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r, s.maxBodyBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	res := s.dispatcher.Dispatch(r.Context(), webhook.Request{
		Platform: chi.URLParam(r, "platform"),
		Payload:  payload,
		Headers:  r.Header,
		URL:      s.callbackURL(r),
	})
	contentType, status, body := res.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.dispatcher.Challenge(string(webhook.PlatformWhatsApp), r.URL.Query())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Forbidden"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "success",
		"message":             "Test webhook endpoint is active",
		"supported_platforms": webhook.Platforms(),
	})
}

func (s *Server) handleWebhookStatus(w http.ResponseWriter, _ *http.Request) {
	platforms := webhook.Platforms()
	endpoints := make(map[string]string, len(platforms))
	for _, p := range platforms {
		endpoints[string(p)] = "/api/webhooks/" + string(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "active",
		"message":             "Webhook service is running",
		"supported_platforms": platforms,
		"endpoints":           endpoints,
	})
}

// callbackURL 还原提供方请求的完整地址。配置了 public_url 时以其为准。
func (s *Server) callbackURL(r *http.Request) string {
	if s.publicURL != "" {
		return strings.TrimRight(s.publicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
