package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"DeafFirst-Hub/internal/auth"
	"DeafFirst-Hub/internal/connectors/data"
	"DeafFirst-Hub/internal/eventlog"
	"DeafFirst-Hub/internal/webhook"
	"DeafFirst-Hub/pkg/plugin"
)

type fixture struct {
	server *httptest.Server
	auth   *auth.Service
	sink   *eventlog.MemorySink
	reg    *plugin.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sink := eventlog.NewMemorySink(50)
	d, err := webhook.NewDispatcher(webhook.Config{
		AllowUnverified: []string{"test"},
		Secrets: webhook.Secrets{
			Stripe:              "whsec",
			Twilio:              "twilio-token",
			WhatsAppVerifyToken: "verify-me",
		},
	}, webhook.WithEventSink(sink))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	reg := plugin.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	err = reg.Register(plugin.TypeDataConnector, "faq", data.NewMemoryConstructor, map[string]any{
		"records": []any{
			map[string]any{"id": "1", "title": "Earned income credit"},
			map[string]any{"id": "2", "title": "Claim a deduction"},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeJWT, JWT: auth.JWTOptions{Secret: "admin-secret"}})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	s := NewServer(":0", d,
		WithRegistry(reg),
		WithEventReader(sink),
		WithAuth(authSvc),
		WithPublicURL("https://hub.example.com"),
		WithMaxBodyBytes(4096),
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{server: srv, auth: authSvc, sink: sink, reg: reg}
}

func (f *fixture) token(t *testing.T, perms ...string) string {
	t.Helper()
	tok, err := f.auth.Issue("tester", perms, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok.AccessToken
}

func (f *fixture) do(t *testing.T, method, path, token, contentType, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, respBody
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return out
}

func TestWebhookEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/webhooks/stripe", "", "application/json", `{"id":"evt_1","type":"charge.refunded"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized || decode(t, body)["error_code"] != "VERIFICATION_FAILED" {
		t.Fatalf("unsigned stripe delivery: %d %s", resp.StatusCode, body)
	}

	payload := `{"id":"evt_2","type":"customer.subscription.created"}`
	h := http.Header{}
	h.Set("Stripe-Signature", webhook.SignTimestamped([]byte("whsec"), []byte(payload), time.Now()))
	resp, body = f.do(t, http.MethodPost, "/api/webhooks/stripe", "", "application/json", payload, h)
	if resp.StatusCode != http.StatusOK || decode(t, body)["message"] != "Subscription created" {
		t.Fatalf("signed stripe delivery: %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/webhooks/myspace", "", "application/json", `{}`, nil)
	if resp.StatusCode != http.StatusBadRequest || decode(t, body)["message"] != "Unsupported platform: myspace" {
		t.Fatalf("unknown platform: %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/webhooks/test", "", "application/json", `{"hello":"world"}`, nil)
	if resp.StatusCode != http.StatusOK || decode(t, body)["message"] != "Test webhook received" {
		t.Fatalf("test delivery: %d %s", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/webhooks/test", "", "application/json", `{"pad":"`+strings.Repeat("x", 5000)+`"}`, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body should be rejected, got %d", resp.StatusCode)
	}
}

func TestTwilioUsesPublicURLForSignature(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"Body": {"/help"}, "From": {"+15550001111"}, "MessageSid": {"SM9"}}
	h := http.Header{}
	h.Set("X-Twilio-Signature", webhook.TwilioSign([]byte("twilio-token"), "https://hub.example.com/api/webhooks/twilio", form))

	resp, body := f.do(t, http.MethodPost, "/api/webhooks/twilio", "", "application/x-www-form-urlencoded", form.Encode(), h)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/xml" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "<Response><Message>") {
		t.Fatalf("expected TwiML, got %s", body)
	}
}

func TestWebhookInfoAndChallenge(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/webhooks/status", "", "", "", nil)
	out := decode(t, body)
	if resp.StatusCode != http.StatusOK || out["status"] != "active" {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	if out["endpoints"].(map[string]any)["stripe"] != "/api/webhooks/stripe" {
		t.Fatalf("unexpected endpoints %v", out["endpoints"])
	}
	resp, body = f.do(t, http.MethodGet, "/api/webhooks/test", "", "", "", nil)
	if resp.StatusCode != http.StatusOK || len(decode(t, body)["supported_platforms"].([]any)) != len(webhook.Platforms()) {
		t.Fatalf("test info: %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=4242", "", "", "", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "4242" {
		t.Fatalf("challenge: %d %s", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=guess&hub.challenge=4242", "", "", "", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong verify token should be forbidden, got %d", resp.StatusCode)
	}
}

func TestCommandEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/commands", "", "application/json", `{"user_id":"u1"}`, nil)
	out := decode(t, body)
	if resp.StatusCode != http.StatusBadRequest || out["message"] != "Command is required" || out["visual_feedback"] == nil {
		t.Fatalf("missing command: %d %s", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPost, "/api/v1/commands", "", "application/json", `{"command":"/help"}`, nil)
	if resp.StatusCode != http.StatusBadRequest || decode(t, body)["message"] != "User ID is required" {
		t.Fatalf("missing user: %d %s", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPost, "/api/v1/commands", "", "application/json", `{"command":"/tax credits","user_id":"u1"}`, nil)
	out = decode(t, body)
	if resp.StatusCode != http.StatusOK || out["status"] != "success" || out["kind"] != "domain" {
		t.Fatalf("domain command: %d %s", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/v1/commands", "", "application/json", `{"command":`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body should be 400, got %d", resp.StatusCode)
	}
}

func TestConnectorAdmin(t *testing.T) {
	f := newFixture(t)
	reader := f.token(t, auth.PermConnectorsRead)
	writer := f.token(t, auth.PermConnectorsRead, auth.PermConnectorsWrite)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/connectors", "", "", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous list should be 401, got %d", resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodGet, "/api/v1/connectors?type=DATA_CONNECTOR", reader, "", "", nil)
	list := decode(t, body)["connectors"].([]any)
	if resp.StatusCode != http.StatusOK || len(list) != 1 || list[0].(map[string]any)["name"] != "faq" {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/connectors?type=teleporter", reader, "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type should be 400, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPatch, "/api/v1/connectors/data_connector/faq", reader, "application/json", `{"enabled":false}`, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("read token cannot toggle, got %d", resp.StatusCode)
	}

	exec := `{"verb":"search","args":{"query":"credit"}}`
	resp, body = f.do(t, http.MethodPost, "/api/v1/connectors/data_connector/faq/execute", writer, "application/json", exec, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", resp.StatusCode, body)
	}
	output := decode(t, body)["output"].(map[string]any)
	if output["total"].(float64) != 1 {
		t.Fatalf("unexpected output %v", output)
	}

	resp, _ = f.do(t, http.MethodPatch, "/api/v1/connectors/data_connector/faq", writer, "application/json", `{"enabled":false}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle: %d", resp.StatusCode)
	}
	resp, body = f.do(t, http.MethodPost, "/api/v1/connectors/data_connector/faq/execute", writer, "application/json", exec, nil)
	if resp.StatusCode != http.StatusConflict || decode(t, body)["error_code"] != "CONNECTOR_DISABLED" {
		t.Fatalf("disabled connector: %d %s", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/connectors/data_connector/faq", writer, "", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, body = f.do(t, http.MethodDelete, "/api/v1/connectors/data_connector/faq", writer, "", "", nil)
	if resp.StatusCode != http.StatusNotFound || decode(t, body)["error_code"] != "CONNECTOR_NOT_FOUND" {
		t.Fatalf("second delete: %d %s", resp.StatusCode, body)
	}
	if _, ok := f.reg.Get(plugin.TypeDataConnector, "faq"); ok {
		t.Fatalf("connector should be gone")
	}
}

func TestEventQueries(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/webhooks/test", "", "application/json", `{"n":1}`, nil)
	f.do(t, http.MethodPost, "/api/webhooks/stripe", "", "application/json", `{"id":"evt_x"}`, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/events", f.token(t, auth.PermConnectorsRead), "", "", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("events need events:read, got %d", resp.StatusCode)
	}

	token := f.token(t, auth.PermEventsRead)
	resp, body := f.do(t, http.MethodGet, "/api/v1/events?platform=stripe&limit=5", token, "", "", nil)
	events := decode(t, body)["events"].([]any)
	if resp.StatusCode != http.StatusOK || len(events) != 1 || events[0].(map[string]any)["status"] != "error" {
		t.Fatalf("events: %d %s", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/events?limit=-1", token, "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/api/v1/events/stats?since=2020-01-01T00:00:00Z", token, "", "", nil)
	var stats eventlog.Stats
	if err := json.Unmarshal(body, &stats); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", resp.StatusCode, body)
	}
	if stats.Total != 2 || stats.Failed != 1 || stats.Platforms["test"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", "", "", nil)
	if resp.StatusCode != http.StatusOK || decode(t, body)["status"] != "ok" {
		t.Fatalf("healthz: %d %s", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodGet, "/metrics", "", "", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "deafhub_http_requests_total") {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	d, err := webhook.NewDispatcher(webhook.Config{})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer("127.0.0.1:0", d).Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
