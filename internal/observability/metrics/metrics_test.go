package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesObservations(t *testing.T) {
	ObserveHTTPRequest("webhook", "POST", 200, 20*time.Millisecond)
	ObserveDispatch("stripe", "success", "OK", 15*time.Millisecond)
	ObserveDuplicate("stripe")
	ObserveConnector("video_chat", "zoom", "create_room", "success", time.Second)
	ObserveConnector("video_chat", "zoom", "create_room", "rejected", 0)
	ObserveCommand("help", "telegram", "success")
	ObserveEventLogFailure("sql")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`deafhub_http_requests_total{code="200",handler="webhook",method="POST"} 1`,
		`deafhub_webhook_dispatch_total{code="OK",platform="stripe",status="success"} 1`,
		`deafhub_webhook_duplicates_total{platform="stripe"} 1`,
		`deafhub_connector_executions_total{name="zoom",outcome="rejected",type="video_chat",verb="create_room"} 1`,
		`deafhub_command_resolutions_total{kind="help",platform="telegram",status="success"} 1`,
		`deafhub_eventlog_append_failures_total{sink="sql"} 1`,
		`deafhub_connector_execution_duration_seconds_count{name="zoom",type="video_chat"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
