package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubAction struct {
	calls   atomic.Int32
	invalid error
	invoke  func(ctx context.Context, action string, input map[string]any) (map[string]any, error)
	closed  atomic.Bool
}

func (s *stubAction) ValidateConfig() error { return s.invalid }
func (s *stubAction) Actions() []string     { return []string{"lookup"} }
func (s *stubAction) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *stubAction) Invoke(ctx context.Context, action string, input map[string]any) (map[string]any, error) {
	s.calls.Add(1)
	if s.invoke != nil {
		return s.invoke(ctx, action, input)
	}
	return map[string]any{"action": action, "echo": input["q"]}, nil
}

func ctorFor(conn Connector) Constructor {
	return func(map[string]any) (Connector, error) { return conn, nil }
}

func TestRegisterMakesConnectorVisible(t *testing.T) {
	reg := NewRegistry()
	stub := &stubAction{}
	if err := reg.Register(TypeDataConnector, "records", ctorFor(stub), map[string]any{"api_key": "k", "region": "us"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := reg.Get(TypeDataConnector, "records")
	if !ok || got != stub {
		t.Fatalf("expected registered connector from Get")
	}
	list := reg.List(TypeDataConnector)
	if len(list) != 1 || list[0].Name != "records" || !list[0].Enabled {
		t.Fatalf("unexpected descriptors: %+v", list)
	}
	if list[0].Config["api_key"] != "***" || list[0].Config["region"] != "us" {
		t.Fatalf("config not redacted as expected: %+v", list[0].Config)
	}
	if len(reg.List(TypeVideoChat)) != 0 {
		t.Fatalf("list must be scoped to the requested type")
	}
}

func TestRegisterDuplicateKeepsExistingEntry(t *testing.T) {
	reg := NewRegistry()
	first := &stubAction{}
	if err := reg.Register(TypeDataConnector, "records", ctorFor(first), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	built := false
	err := reg.Register(TypeDataConnector, "records", func(map[string]any) (Connector, error) {
		built = true
		return &stubAction{}, nil
	}, nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if built {
		t.Fatalf("duplicate registration should not construct a connector")
	}
	if got, _ := reg.Get(TypeDataConnector, "records"); got != first {
		t.Fatalf("existing entry replaced")
	}
	if err := reg.Register(TypeUIComponent, "records", ctorFor(&stubAction{}), nil); err != nil {
		t.Fatalf("same name under another type should be accepted: %v", err)
	}
}

func TestRegisterRejectsWithoutSideEffects(t *testing.T) {
	cases := map[string]Constructor{
		"validation": ctorFor(&stubAction{invalid: errors.New("base_url is required")}),
		"ctor error": func(map[string]any) (Connector, error) { return nil, errors.New("boom") },
		"ctor panic": func(map[string]any) (Connector, error) { panic("kaboom") },
		"nil conn":   func(map[string]any) (Connector, error) { return nil, nil },
	}
	for name, ctor := range cases {
		reg := NewRegistry()
		err := reg.Register(TypeDataConnector, "records", ctor, nil)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
		if _, ok := reg.Get(TypeDataConnector, "records"); ok {
			t.Fatalf("%s: rejected connector is visible", name)
		}
		if len(reg.List("")) != 0 {
			t.Fatalf("%s: rejected connector is listed", name)
		}
	}
}

func TestRegisterRejectsContractMismatch(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(TypeVideoChat, "zoom", ctorFor(&stubAction{}), nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected contract mismatch rejection, got %v", err)
	}
}

func TestRegisterHonoursPolicy(t *testing.T) {
	reg := NewRegistry(WithPolicy(Policy{DeniedTypes: []CapabilityType{TypePaymentProcessor}}))
	err := reg.Register(TypePaymentProcessor, "stripe", ctorFor(&stubAction{}), nil)
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
}

func TestRegisterCopiesConfig(t *testing.T) {
	reg := NewRegistry()
	cfg := map[string]any{"region": "us", "nested": map[string]any{"a": 1}}
	if err := reg.Register(TypeDataConnector, "records", ctorFor(&stubAction{}), cfg); err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg["region"] = "eu"
	cfg["nested"].(map[string]any)["a"] = 2
	desc := reg.List(TypeDataConnector)[0]
	if desc.Config["region"] != "us" || desc.Config["nested"].(map[string]any)["a"] != 1 {
		t.Fatalf("descriptor config mutated through caller map: %+v", desc.Config)
	}
}

func TestExecuteDisabledDoesNotInvoke(t *testing.T) {
	reg := NewRegistry()
	stub := &stubAction{}
	if err := reg.Register(TypeDataConnector, "records", ctorFor(stub), nil, Disabled()); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := reg.Execute(context.Background(), TypeDataConnector, "records", Action{Type: TypeDataConnector, Name: "lookup"})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if stub.calls.Load() != 0 {
		t.Fatalf("disabled connector invoked %d times", stub.calls.Load())
	}

	if !reg.SetEnabled(TypeDataConnector, "records", true) {
		t.Fatalf("SetEnabled should find the connector")
	}
	res, err := reg.Execute(context.Background(), TypeDataConnector, "records", Action{Type: TypeDataConnector, Name: "lookup", Input: map[string]any{"q": "w2"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := res.Output.(map[string]any)
	if out["echo"] != "w2" || res.Verb != "lookup" || stub.calls.Load() != 1 {
		t.Fatalf("unexpected result %+v (calls=%d)", res, stub.calls.Load())
	}
}

func TestExecuteAbsentAndMismatchedRequests(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Execute(context.Background(), TypeDataConnector, "missing", Action{Type: TypeDataConnector, Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	stub := &stubAction{}
	_ = reg.Register(TypeDataConnector, "records", ctorFor(stub), nil)
	if _, err := reg.Execute(context.Background(), TypeDataConnector, "records", EndRoom{RoomID: "r1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := reg.Execute(context.Background(), TypeDataConnector, "records", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for nil request, got %v", err)
	}
	if stub.calls.Load() != 0 {
		t.Fatalf("mismatched request reached the connector")
	}
}

func TestExecuteRecoversFailures(t *testing.T) {
	var outcomes []string
	var mu sync.Mutex
	reg := NewRegistry(
		WithExecuteTimeout(50*time.Millisecond),
		WithObserver(func(_ CapabilityType, _, _, outcome string, _ time.Duration) {
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}),
	)
	failing := &stubAction{invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, errors.New("upstream 503")
	}}
	panicking := &stubAction{invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
		panic("nil map")
	}}
	slow := &stubAction{invoke: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	stubborn := &stubAction{invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
		time.Sleep(200 * time.Millisecond)
		return map[string]any{}, nil
	}}
	for name, conn := range map[string]*stubAction{"failing": failing, "panicking": panicking, "slow": slow, "stubborn": stubborn} {
		if err := reg.Register(TypeDataConnector, name, ctorFor(conn), nil); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	req := Action{Type: TypeDataConnector, Name: "lookup"}
	_, err := reg.Execute(context.Background(), TypeDataConnector, "failing", req)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
	_, err = reg.Execute(context.Background(), TypeDataConnector, "panicking", req)
	var panicErr *PanicError
	if !errors.Is(err, ErrExecutionFailed) || !errors.As(err, &panicErr) {
		t.Fatalf("expected recovered panic, got %v", err)
	}
	for _, name := range []string{"slow", "stubborn"} {
		_, err = reg.Execute(context.Background(), TypeDataConnector, name, req)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("%s: expected ErrTimeout, got %v", name, err)
		}
	}
	if stubborn.calls.Load() != 1 {
		t.Fatalf("timed out call must not be retried")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"error", "error", "timeout", "timeout"}
	if len(outcomes) != len(want) {
		t.Fatalf("unexpected observer outcomes %v", outcomes)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("unexpected observer outcomes %v", outcomes)
		}
	}
}

func TestTimedOutCallSeesCancellation(t *testing.T) {
	reg := NewRegistry(WithExecuteTimeout(20 * time.Millisecond))
	returned := make(chan error, 1)
	conn := &stubAction{invoke: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		returned <- ctx.Err()
		return nil, ctx.Err()
	}}
	if err := reg.Register(TypeDataConnector, "slow", ctorFor(conn), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := reg.Execute(context.Background(), TypeDataConnector, "slow", Action{Type: TypeDataConnector, Name: "lookup"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	select {
	case got := <-returned:
		if !errors.Is(got, context.DeadlineExceeded) {
			t.Fatalf("connector should observe the deadline, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("connector context was not cancelled after the timeout")
	}
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	if reg.Unregister(TypeDataConnector, "missing") {
		t.Fatalf("unregister of unknown connector should return false")
	}
	stub := &stubAction{}
	_ = reg.Register(TypeDataConnector, "records", ctorFor(stub), nil)
	if !reg.Unregister(TypeDataConnector, "records") {
		t.Fatalf("unregister should return true for known connector")
	}
	if _, ok := reg.Get(TypeDataConnector, "records"); ok {
		t.Fatalf("connector still visible after unregister")
	}
	if !stub.closed.Load() {
		t.Fatalf("closer not invoked on unregister")
	}
	if reg.SetEnabled(TypeDataConnector, "records", false) {
		t.Fatalf("SetEnabled should report missing connector")
	}
}

func TestConcurrentReadersDuringRegistration(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, desc := range reg.List("") {
					if _, ok := reg.Get(desc.Type, desc.Name); !ok {
						t.Errorf("listed connector %s is not retrievable", desc.Name)
					}
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		name := "c" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		if err := reg.Register(TypeDataConnector, name, ctorFor(&stubAction{}), nil); err != nil {
			t.Errorf("register %s: %v", name, err)
		}
	}
	close(stop)
	wg.Wait()
	if got := len(reg.List(TypeDataConnector)); got != 50 {
		t.Fatalf("expected 50 connectors, got %d", got)
	}
}

func TestBootstrapFromYAML(t *testing.T) {
	t.Setenv("RECORDS_REGION", "us")
	dir := t.TempDir()
	path := filepath.Join(dir, "connectors.yaml")
	content := `
defaults:
  timeout: 2s
policy:
  deniedTypes: [ui_component]
connectors:
  - name: records
    type: data_connector
    provider: stub
    config:
      region: ${RECORDS_REGION}
  - name: paused
    type: data_connector
    provider: stub
    enabled: false
  - name: unknown
    type: data_connector
    provider: nope
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadRegistryConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Defaults.Timeout != 2*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Defaults.Timeout)
	}
	if cfg.Connectors[0].Config["region"] != "us" {
		t.Fatalf("env reference not expanded: %v", cfg.Connectors[0].Config)
	}

	catalog := NewCatalog()
	if err := catalog.Add(TypeDataConnector, "stub", func(map[string]any) (Connector, error) { return &stubAction{}, nil }); err != nil {
		t.Fatalf("catalog add: %v", err)
	}
	reg := NewRegistry(WithPolicy(cfg.Policy), WithExecuteTimeout(cfg.Defaults.Timeout))
	err = reg.Bootstrap(cfg, catalog)
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	list := reg.List(TypeDataConnector)
	if len(list) != 2 {
		t.Fatalf("expected 2 registered connectors, got %+v", list)
	}
	if list[0].Name != "paused" || list[0].Enabled || list[0].Provider != "stub" {
		t.Fatalf("unexpected paused descriptor %+v", list[0])
	}
	if list[1].Name != "records" || !list[1].Enabled {
		t.Fatalf("unexpected records descriptor %+v", list[1])
	}
}

func TestParseCapabilityType(t *testing.T) {
	got, err := ParseCapabilityType("API_CONNECTOR")
	if err != nil || got != TypeAPIConnector {
		t.Fatalf("unexpected parse result %q, %v", got, err)
	}
	if _, err := ParseCapabilityType("fax"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown type, got %v", err)
	}
}

func TestDecodeConfig(t *testing.T) {
	var cfg struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
		Burst   int           `mapstructure:"burst"`
	}
	if err := DecodeConfig(map[string]any{"base_url": "https://x", "timeout": "5s", "burst": "3"}, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Timeout != 5*time.Second || cfg.Burst != 3 {
		t.Fatalf("unexpected decode result %+v", cfg)
	}
	if err := DecodeConfig(map[string]any{"base_urll": "typo"}, &cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected unknown key rejection, got %v", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(TypeVideoChat, "get_token", json.RawMessage(`{"room_id":"r1","user_id":"u1"}`))
	if err != nil {
		t.Fatalf("decode get_token: %v", err)
	}
	if tok, ok := req.(GetToken); !ok || tok.RoomID != "r1" || tok.UserID != "u1" {
		t.Fatalf("unexpected request %#v", req)
	}

	req, err = DecodeRequest(TypeDataConnector, "search", json.RawMessage(`{"query":"tax"}`))
	if err != nil {
		t.Fatalf("decode action: %v", err)
	}
	action, ok := req.(Action)
	if !ok || action.Type != TypeDataConnector || action.Verb() != "search" || action.Input["query"] != "tax" {
		t.Fatalf("unexpected action %#v", req)
	}

	if req, err = DecodeRequest(TypeAPIConnector, "call", nil); err != nil || req.Verb() != "call" {
		t.Fatalf("empty args should decode, got %v %v", req, err)
	}
	if _, err := DecodeRequest(TypeDataConnector, "", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing verb should be invalid, got %v", err)
	}
	if _, err := DecodeRequest(TypeVideoChat, "end_room", json.RawMessage(`[1]`)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("malformed args should be invalid, got %v", err)
	}
	if _, err := DecodeRequest(CapabilityType("fax"), "send", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown type should be invalid, got %v", err)
	}
}
