package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultExecuteTimeout bounds a single connector call when the registry is
// constructed without WithExecuteTimeout.
const DefaultExecuteTimeout = 10 * time.Second

// ExecutionObserver receives the outcome of every Execute call. outcome is one
// of "success", "error", "timeout", "rejected".
type ExecutionObserver func(t CapabilityType, name, verb, outcome string, elapsed time.Duration)

// Registry owns connector instances keyed by (capability type, name).
//
// Register and Unregister are serialised against each other; Get, List and
// Execute only take the read lock and observe either the state before or after
// a registration, never a partially constructed entry.
type Registry struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries map[CapabilityType]map[string]*entry

	policy   Policy
	timeout  time.Duration
	logger   *slog.Logger
	observer ExecutionObserver
	now      func() time.Time
}

type entry struct {
	conn       Connector
	descriptor Descriptor
	enabled    atomic.Bool
}

// Option modifies the behaviour of a registry instance.
type Option func(*Registry)

// WithPolicy restricts which capability types may be registered.
func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithExecuteTimeout overrides DefaultExecuteTimeout.
func WithExecuteTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for registration and execution events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver installs an execution observer, typically a metrics hook.
func WithObserver(o ExecutionObserver) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[CapabilityType]map[string]*entry),
		timeout: DefaultExecuteTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption adjusts the descriptor of a single registration.
type RegisterOption func(*Descriptor)

// WithProvider records the vendor implementation backing the connector.
func WithProvider(provider string) RegisterOption {
	return func(d *Descriptor) {
		d.Provider = provider
	}
}

// Disabled registers the connector in the disabled state.
func Disabled() RegisterOption {
	return func(d *Descriptor) {
		d.Enabled = false
	}
}

// Register constructs and validates a connector and stores it under (t, name).
// It either fully succeeds or leaves the registry untouched: construction
// errors, panics, failed validation, a contract mismatch, a policy denial or a
// duplicate name all reject the registration.
func (r *Registry) Register(t CapabilityType, name string, ctor Constructor, cfg map[string]any, opts ...RegisterOption) error {
	name = strings.TrimSpace(name)
	switch {
	case !t.Valid():
		return fmt.Errorf("%w: unknown capability type %q", ErrInvalidConfig, t)
	case name == "":
		return fmt.Errorf("%w: connector name cannot be empty", ErrInvalidConfig)
	case ctor == nil:
		return fmt.Errorf("%w: constructor cannot be nil", ErrInvalidConfig)
	}
	if err := r.policy.Permits(t); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, exists := r.lookup(t, name); exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, t, name)
	}

	conn, err := construct(ctor, cloneConfig(cfg))
	if err != nil {
		r.logger.Warn("connector rejected", slog.String("type", string(t)), slog.String("name", name), slog.Any("error", err))
		return fmt.Errorf("%w: construct %s/%s: %v", ErrInvalidConfig, t, name, err)
	}
	if !conforms(t, conn) {
		return fmt.Errorf("%w: %s/%s (%T) does not implement the %s contract", ErrInvalidConfig, t, name, conn, t)
	}
	if err := validate(conn); err != nil {
		r.logger.Warn("connector rejected", slog.String("type", string(t)), slog.String("name", name), slog.Any("error", err))
		return fmt.Errorf("%w: validate %s/%s: %v", ErrInvalidConfig, t, name, err)
	}

	desc := Descriptor{
		Name:         name,
		Type:         t,
		Config:       cloneConfig(cfg),
		Enabled:      true,
		RegisteredAt: r.now().UTC(),
	}
	for _, opt := range opts {
		opt(&desc)
	}
	e := &entry{conn: conn, descriptor: desc}
	e.enabled.Store(desc.Enabled)

	r.mu.Lock()
	byName := r.entries[t]
	if byName == nil {
		byName = make(map[string]*entry)
		r.entries[t] = byName
	}
	byName[name] = e
	r.mu.Unlock()

	r.logger.Info("connector registered",
		slog.String("type", string(t)),
		slog.String("name", name),
		slog.String("provider", desc.Provider),
		slog.Bool("enabled", desc.Enabled),
	)
	return nil
}

// Get returns the live connector registered under (t, name).
func (r *Registry) Get(t CapabilityType, name string) (Connector, bool) {
	e, ok := r.lookup(t, name)
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// List returns descriptors for t, or for every type when t is empty, sorted by
// type and name. Secret-looking configuration values are redacted.
func (r *Registry) List(t CapabilityType) []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0)
	for typ, byName := range r.entries {
		if t != "" && typ != t {
			continue
		}
		for _, e := range byName {
			desc := e.descriptor
			desc.Enabled = e.enabled.Load()
			desc.Config = redactConfig(desc.Config)
			out = append(out, desc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type == out[j].Type {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// SetEnabled toggles the only mutable descriptor field. It reports whether the
// connector exists.
func (r *Registry) SetEnabled(t CapabilityType, name string, enabled bool) bool {
	e, ok := r.lookup(t, name)
	if !ok {
		return false
	}
	if e.enabled.Swap(enabled) != enabled {
		r.logger.Info("connector toggled", slog.String("type", string(t)), slog.String("name", name), slog.Bool("enabled", enabled))
	}
	return true
}

// Unregister removes the connector and closes it when it implements io.Closer.
func (r *Registry) Unregister(t CapabilityType, name string) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	e, ok := r.entries[t][name]
	if ok {
		delete(r.entries[t], name)
		if len(r.entries[t]) == 0 {
			delete(r.entries, t)
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if closer, isCloser := e.conn.(io.Closer); isCloser {
		if err := closer.Close(); err != nil {
			r.logger.Warn("connector close failed", slog.String("type", string(t)), slog.String("name", name), slog.Any("error", err))
		}
	}
	r.logger.Info("connector unregistered", slog.String("type", string(t)), slog.String("name", name))
	return true
}

// Execute runs req against the connector registered under (t, name).
//
// An absent or disabled connector is reported without invoking anything.
// Connector errors, panics and timeouts never propagate as panics; they are
// logged and returned as *ExecutionError. Execute does not retry. On timeout
// the connector keeps running until it honours its cancelled context.
func (r *Registry) Execute(ctx context.Context, t CapabilityType, name string, req Request) (*Result, error) {
	verb := ""
	if req != nil {
		verb = req.Verb()
	}
	ctx, span := otel.Tracer("DeafFirst-Hub/pkg/plugin").Start(ctx, "plugin.Execute")
	span.SetAttributes(
		attribute.String("connector.type", string(t)),
		attribute.String("connector.name", name),
		attribute.String("connector.verb", verb),
	)
	defer span.End()

	e, ok := r.lookup(t, name)
	if !ok {
		r.observe(t, name, verb, "rejected", 0)
		span.SetStatus(codes.Error, "not found")
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, t, name)
	}
	if !e.enabled.Load() {
		r.observe(t, name, verb, "rejected", 0)
		span.SetStatus(codes.Error, "disabled")
		return nil, fmt.Errorf("%w: %s/%s", ErrDisabled, t, name)
	}
	if req == nil || req.Capability() != t {
		r.observe(t, name, verb, "rejected", 0)
		span.SetStatus(codes.Error, "invalid request")
		return nil, fmt.Errorf("%w: %T cannot target %s", ErrInvalidRequest, req, t)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	start := r.now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: &PanicError{Value: rec, Stack: debug.Stack()}}
			}
		}()
		out, err := invoke(callCtx, e.conn, req)
		done <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = outcome{err: callCtx.Err()}
	}
	elapsed := r.now().Sub(start)

	if res.err == nil {
		r.observe(t, name, verb, "success", elapsed)
		return &Result{Type: t, Name: name, Verb: verb, Output: res.out, Duration: elapsed}, nil
	}

	kind, outcomeLabel := ErrExecutionFailed, "error"
	if errors.Is(res.err, context.DeadlineExceeded) {
		kind, outcomeLabel = ErrTimeout, "timeout"
	}
	attrs := []any{
		slog.String("type", string(t)),
		slog.String("name", name),
		slog.String("verb", verb),
		slog.Duration("elapsed", elapsed),
		slog.Any("error", res.err),
	}
	var panicErr *PanicError
	if errors.As(res.err, &panicErr) {
		attrs = append(attrs, slog.String("stack", string(panicErr.Stack)))
	}
	r.logger.Error("connector execution failed", attrs...)
	r.observe(t, name, verb, outcomeLabel, elapsed)
	span.RecordError(res.err)
	span.SetStatus(codes.Error, outcomeLabel)
	return nil, &ExecutionError{Type: t, Name: name, Verb: verb, Kind: kind, Err: res.err}
}

// Close unregisters every connector.
func (r *Registry) Close() error {
	for _, desc := range r.List("") {
		r.Unregister(desc.Type, desc.Name)
	}
	return nil
}

func (r *Registry) lookup(t CapabilityType, name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t][name]
	return e, ok
}

func (r *Registry) observe(t CapabilityType, name, verb, outcome string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer(t, name, verb, outcome, elapsed)
	}
}

func construct(ctor Constructor, cfg map[string]any) (conn Connector, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			conn, err = nil, &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	conn, err = ctor(cfg)
	if err == nil && conn == nil {
		err = errors.New("constructor returned nil connector")
	}
	return conn, err
}

func validate(conn Connector) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return conn.ValidateConfig()
}

func cloneConfig(cfg map[string]any) map[string]any {
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneConfig(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

var secretMarkers = []string{"secret", "token", "password", "api_key", "apikey", "private_key", "auth"}

func redactConfig(cfg map[string]any) map[string]any {
	if len(cfg) == 0 {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		lower := strings.ToLower(k)
		secret := false
		for _, marker := range secretMarkers {
			if strings.Contains(lower, marker) {
				secret = true
				break
			}
		}
		switch {
		case secret:
			out[k] = "***"
		case isMap(v):
			out[k] = redactConfig(v.(map[string]any))
		default:
			out[k] = cloneValue(v)
		}
	}
	return out
}

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}
