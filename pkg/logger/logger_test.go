package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesAuditStreamToRotatingFile(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "logs", "app.log")
	auditPath := filepath.Join(dir, "logs", "audit.log")

	err := Init(Config{
		Level:       "debug",
		OutputPaths: []string{appPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Init(Config{}); err == nil {
		t.Fatalf("expected second init to be rejected")
	}

	Named("registry").Debug("connector registered")
	Audit().Info("webhook_dispatch", "platform", "stripe")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	app, err := os.ReadFile(appPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(app), `"component":"registry"`) {
		t.Fatalf("component attribute missing: %s", app)
	}

	raw, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &record); err != nil {
		t.Fatalf("decode audit record: %v", err)
	}
	if record["msg"] != "webhook_dispatch" || record["platform"] != "stripe" || record["stream"] != "audit" {
		t.Fatalf("unexpected audit record: %v", record)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING").String() != "WARN" {
		t.Fatalf("warning should map to WARN")
	}
	if parseLevel("").String() != "INFO" {
		t.Fatalf("empty level should default to INFO")
	}
}
