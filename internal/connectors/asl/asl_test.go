package asl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"DeafFirst-Hub/pkg/plugin"
)

func TestVSLRequestInterpreter(t *testing.T) {
	s, err := New("vsl_labs", Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.ValidateConfig(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	session, err := s.RequestInterpreter(context.Background(), plugin.Appointment{SessionID: "abc"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if session.InterpreterID != "vsl_ai_001" || session.Type != "ai_interpreter" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.SessionURL != "https://vsl.labs/session/abc" || len(session.Capabilities) != 3 {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestVSLRequiresAPIKey(t *testing.T) {
	s, _ := New("vsl_labs", Config{})
	if err := s.ValidateConfig(); err == nil {
		t.Fatalf("expected missing api_key error")
	}
}

func TestSignASLDefaults(t *testing.T) {
	s, _ := New("signasl", Config{})
	at := time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)
	session, err := s.RequestInterpreter(context.Background(), plugin.Appointment{ID: "42", ScheduledAt: at})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if session.InterpreterID != "signasl_42" || session.Language != "ASL" || session.DurationMinutes != 60 {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.JoinURL != "https://signasl.com/join/42" || !session.ScheduledAt.Equal(at) {
		t.Fatalf("unexpected session %+v", session)
	}
	if _, err := s.RequestInterpreter(context.Background(), plugin.Appointment{}); !errors.Is(err, plugin.ErrInvalidRequest) {
		t.Fatalf("missing appointment id should be rejected, got %v", err)
	}
}

func TestPinkSyncTiers(t *testing.T) {
	basic, _ := New("pinksync", Config{})
	premium, _ := New("pinksync", Config{SubscriptionTier: "premium"})

	b, err := basic.RequestInterpreter(context.Background(), plugin.Appointment{SessionID: "s1"})
	if err != nil {
		t.Fatalf("basic: %v", err)
	}
	p, err := premium.RequestInterpreter(context.Background(), plugin.Appointment{SessionID: "s1"})
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	if len(b.Services) != 3 || len(p.Services) != 5 || p.Tier != "premium" {
		t.Fatalf("unexpected services basic=%v premium=%v", b.Services, p.Services)
	}

	invalid, _ := New("pinksync", Config{SubscriptionTier: "gold"})
	if err := invalid.ValidateConfig(); err == nil {
		t.Fatalf("unknown tier should fail validation")
	}
}

func TestEmbedCodeEscapesSessionID(t *testing.T) {
	s, _ := New("vsl_labs", Config{APIKey: "k"})
	code, err := s.EmbedCode(context.Background(), `x"><script>`)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if strings.Contains(code, "<script>") {
		t.Fatalf("session id not escaped: %s", code)
	}
	code, _ = s.EmbedCode(context.Background(), "abc")
	if !strings.Contains(code, `src="https://vsl.labs/embed/abc"`) || !strings.Contains(code, `allow="camera; microphone"`) {
		t.Fatalf("unexpected embed code: %s", code)
	}
}

func TestConstructorRejectsUnknownProvider(t *testing.T) {
	if _, err := Constructor("handspeak")(nil); !errors.Is(err, plugin.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	catalog := plugin.NewCatalog()
	if err := Register(catalog); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := catalog.Providers(plugin.TypeASLInterpreter); len(got) != 3 {
		t.Fatalf("unexpected providers %v", got)
	}
}
