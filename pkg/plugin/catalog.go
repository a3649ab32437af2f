package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Catalog maps (capability type, provider) to the constructor that builds it.
// It resolves the provider names used in RegistryConfig.
type Catalog struct {
	mu    sync.RWMutex
	ctors map[CapabilityType]map[string]Constructor
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ctors: make(map[CapabilityType]map[string]Constructor)}
}

// Add registers a constructor. Adding the same provider twice is an error.
func (c *Catalog) Add(t CapabilityType, provider string, ctor Constructor) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown capability type %q", ErrInvalidConfig, t)
	}
	if provider == "" || ctor == nil {
		return errors.New("catalog entries need a provider name and constructor")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctors[t] == nil {
		c.ctors[t] = make(map[string]Constructor)
	}
	if _, exists := c.ctors[t][provider]; exists {
		return fmt.Errorf("provider %s/%s already in catalog", t, provider)
	}
	c.ctors[t][provider] = ctor
	return nil
}

// Lookup returns the constructor for (t, provider).
func (c *Catalog) Lookup(t CapabilityType, provider string) (Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctor, ok := c.ctors[t][provider]
	return ctor, ok
}

// Providers lists the provider names known for t.
func (c *Catalog) Providers(t CapabilityType) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.ctors[t]))
	for name := range c.ctors[t] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bootstrap registers every connector of cfg using constructors from catalog.
// Each registration is independent; failures are collected and returned
// together so one broken connector does not hide the others.
func (r *Registry) Bootstrap(cfg RegistryConfig, catalog *Catalog) error {
	if catalog == nil {
		return errors.New("bootstrap requires a catalog")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	var errs []error
	for _, conn := range cfg.Connectors {
		ctor, ok := catalog.Lookup(conn.Type, conn.Provider)
		if !ok {
			errs = append(errs, fmt.Errorf("connector %s/%s: unknown provider %q", conn.Type, conn.Name, conn.Provider))
			continue
		}
		opts := []RegisterOption{WithProvider(conn.Provider)}
		if !conn.IsEnabled() {
			opts = append(opts, Disabled())
		}
		if err := r.Register(conn.Type, conn.Name, ctor, conn.Config, opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
