package deafhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendCommand(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/commands" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatalf("commands must not carry a token")
		}
		var cmd Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cmd.UserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "User ID is required", "code": 400})
			return
		}
		_ = json.NewEncoder(w).Encode(CommandResult{Status: "success", Message: "Tax: Explore available tax credits", Kind: "domain"})
	})

	res, err := client.SendCommand(context.Background(), Command{Command: "/tax credits", UserID: "u1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Kind != "domain" || res.Status != "success" {
		t.Fatalf("unexpected result %+v", res)
	}

	_, err = client.SendCommand(context.Background(), Command{Command: "/help"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "User ID is required" {
		t.Fatalf("expected 400 api error, got %v", err)
	}
}

func TestAdminCallsRequireToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("request should not be sent")
	})
	if _, err := client.ListConnectors(context.Background(), ""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestConnectorCalls(t *testing.T) {
	var toggled, deleted bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/connectors":
			if r.URL.Query().Get("type") != "data_connector" {
				t.Fatalf("missing type filter: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"connectors": []Connector{{Name: "faq", Type: "data_connector", Enabled: true}}})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/connectors/data_connector/faq":
			var body map[string]bool
			_ = json.NewDecoder(r.Body).Decode(&body)
			toggled = !body["enabled"]
			_ = json.NewEncoder(w).Encode(body)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/connectors/data_connector/faq/execute":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "连接器已禁用", "code": 409, "error_code": "CONNECTOR_DISABLED"})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/connectors/data_connector/faq":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client.SetAccessToken("admin")
	ctx := context.Background()

	list, err := client.ListConnectors(ctx, "data_connector")
	if err != nil || len(list) != 1 || list[0].Name != "faq" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if err := client.SetConnectorEnabled(ctx, "data_connector", "faq", false); err != nil || !toggled {
		t.Fatalf("toggle: %v", err)
	}
	_, err = client.ExecuteConnector(ctx, "data_connector", "faq", "search", map[string]any{"query": "tax"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != "CONNECTOR_DISABLED" {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if err := client.UnregisterConnector(ctx, "data_connector", "faq"); err != nil || !deleted {
		t.Fatalf("delete: %v", err)
	}
}

func TestEventQueries(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/api/v1/events":
			if q.Get("platform") != "stripe" || q.Get("limit") != "5" || q.Get("since") != "2026-01-02T03:04:05Z" {
				t.Fatalf("unexpected query %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"events": []Event{{EventID: "evt_1", Platform: "stripe", Status: "success", Code: 200}}})
		case "/api/v1/events/stats":
			_ = json.NewEncoder(w).Encode(EventStats{Total: 3, Failed: 1, Platforms: map[string]int{"stripe": 3}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client.SetAccessToken("admin")

	events, err := client.ListEvents(context.Background(), EventQuery{Platform: "stripe", Limit: 5, Since: since})
	if err != nil || len(events) != 1 || events[0].EventID != "evt_1" {
		t.Fatalf("events: %v %+v", err, events)
	}
	stats, err := client.EventStats(context.Background(), time.Time{})
	if err != nil || stats.Total != 3 || stats.Platforms["stripe"] != 3 {
		t.Fatalf("stats: %v %+v", err, stats)
	}
}
