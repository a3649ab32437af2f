package apiconn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DeafFirst-Hub/pkg/plugin"
)

func TestCallBuildsRequest(t *testing.T) {
	var captured struct {
		Method        string
		Path          string
		Query         string
		Authorization string
		Custom        string
		Body          map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Query = r.URL.Query().Get("symbols")
		captured.Authorization = r.Header.Get("Authorization")
		captured.Custom = r.Header.Get("X-Client")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"price": 42.5})
	}))
	defer srv.Close()

	conn, err := Constructor("rest")(map[string]any{
		"base_url": srv.URL + "/",
		"api_key":  "secret",
		"headers":  map[string]any{"X-Client": "deafhub"},
		"timeout":  "2s",
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := conn.ValidateConfig(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	resp, err := conn.(*Connector).Call(context.Background(), plugin.APIRequest{
		Method: "post",
		Path:   "/quotes",
		Body:   map[string]any{"ticker": "AAPL"},
		Query:  map[string]string{"symbols": "AAPL,MSFT"},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Body["price"] != 42.5 {
		t.Fatalf("unexpected body %+v", resp.Body)
	}
	if captured.Method != http.MethodPost || captured.Path != "/quotes" || captured.Query != "AAPL,MSFT" {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Authorization != "Bearer secret" || captured.Custom != "deafhub" {
		t.Fatalf("headers missing: %+v", captured)
	}
	if captured.Body["ticker"] != "AAPL" {
		t.Fatalf("body not forwarded: %+v", captured.Body)
	}
}

func TestCallNamedEndpointAndEmptyBody(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	conn, err := Constructor("turbotax")(map[string]any{"base_url": srv.URL})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	c := conn.(*Connector)
	resp, err := c.Call(context.Background(), plugin.APIRequest{Endpoint: "tax_data", Params: map[string]string{"user_id": "u 1"}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if path != "/tax/v1/users/u 1/data" {
		t.Fatalf("unexpected path %q", path)
	}
	if resp.Body == nil || len(resp.Body) != 0 {
		t.Fatalf("empty response should decode to empty object, got %+v", resp.Body)
	}

	if _, err := c.Call(context.Background(), plugin.APIRequest{Endpoint: "tax_data"}); !errors.Is(err, plugin.ErrInvalidRequest) {
		t.Fatalf("missing path parameter should be rejected, got %v", err)
	}
	if _, err := c.Call(context.Background(), plugin.APIRequest{Endpoint: "nope"}); !errors.Is(err, plugin.ErrInvalidRequest) {
		t.Fatalf("unknown endpoint should be rejected, got %v", err)
	}
}

func TestCallReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("rest", Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Call(context.Background(), plugin.APIRequest{Path: "x"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected StatusError 429, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]*Connector{
		"missing base":     New("rest", Config{}),
		"relative base":    New("rest", Config{BaseURL: "api.example.com"}),
		"custom no routes": New("custom", Config{BaseURL: "https://erp.example.com"}),
		"bad method":       New("rest", Config{BaseURL: "https://x.example.com", Endpoints: map[string]Endpoint{"a": {Method: "TRACE", Path: "/a"}}}),
	}
	for name, c := range cases {
		if err := c.ValidateConfig(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	conn, err := Constructor("bloomberg")(map[string]any{"api_key": "k"})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := conn.ValidateConfig(); err != nil {
		t.Fatalf("bloomberg preset should supply a base url: %v", err)
	}
	if _, err := Constructor("rest")(map[string]any{"base_url": "https://x", "retries": 3}); !errors.Is(err, plugin.ErrInvalidConfig) {
		t.Fatalf("unknown config keys should be rejected at construction, got %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New("rest", Config{BaseURL: srv.URL, RatePerSecond: 0.001, Burst: 1})
	if _, err := c.Call(context.Background(), plugin.APIRequest{Path: "a"}); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Call(ctx, plugin.APIRequest{Path: "a"}); err == nil {
		t.Fatalf("second call should fail waiting for a token")
	}
}
