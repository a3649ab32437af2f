// Package data provides data_connector implementations.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"DeafFirst-Hub/pkg/plugin"
)

const defaultListLimit = 20

// Memory serves a static list of records supplied via configuration. Records
// are keyed by KeyField and searchable over SearchFields.
type Memory struct {
	mu           sync.RWMutex
	records      []map[string]any
	byKey        map[string]map[string]any
	keyField     string
	searchFields []string
}

// MemoryConfig is decoded from the connector's raw configuration block.
type MemoryConfig struct {
	Records      []any    `mapstructure:"records"`
	KeyField     string   `mapstructure:"key_field"`
	SearchFields []string `mapstructure:"search_fields"`
}

// NewMemory builds a memory connector. Records may be objects or JSON strings.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	m := &Memory{keyField: cfg.KeyField, searchFields: cfg.SearchFields, byKey: make(map[string]map[string]any)}
	if m.keyField == "" {
		m.keyField = "id"
	}
	for i, item := range cfg.Records {
		var rec map[string]any
		switch value := item.(type) {
		case map[string]any:
			rec = value
		case string:
			if err := json.Unmarshal([]byte(value), &rec); err != nil {
				return nil, fmt.Errorf("%w: decode record %d: %v", plugin.ErrInvalidConfig, i, err)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported record type %T", plugin.ErrInvalidConfig, item)
		}
		m.records = append(m.records, rec)
		if key, ok := rec[m.keyField]; ok {
			m.byKey[fmt.Sprint(key)] = rec
		}
	}
	return m, nil
}

// NewMemoryConstructor adapts NewMemory to the registry constructor contract.
func NewMemoryConstructor(raw map[string]any) (plugin.Connector, error) {
	var cfg MemoryConfig
	if err := plugin.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return NewMemory(cfg)
}

// ValidateConfig requires every record to carry the key field.
func (m *Memory) ValidateConfig() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.byKey) != len(m.records) {
		return fmt.Errorf("every record needs a unique %q field", m.keyField)
	}
	return nil
}

// Actions lists the supported action names.
func (m *Memory) Actions() []string {
	return []string{"get", "list", "search"}
}

// Invoke runs one of get, list or search.
//
//	get    {"key": "..."}               -> {"record": {...}}
//	list   {"limit": n}                 -> {"records": [...], "total": n}
//	search {"query": "...", "limit": n} -> {"records": [...], "total": n}
func (m *Memory) Invoke(ctx context.Context, action string, input map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := intInput(input, "limit", defaultListLimit)
	switch action {
	case "get":
		key := fmt.Sprint(input["key"])
		rec, ok := m.byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: record %q", plugin.ErrNotFound, key)
		}
		return map[string]any{"record": copyRecord(rec)}, nil
	case "list":
		return page(m.records, limit), nil
	case "search":
		query, _ := input["query"].(string)
		query = strings.ToLower(strings.TrimSpace(query))
		if query == "" {
			return nil, fmt.Errorf("%w: search requires a query", plugin.ErrInvalidRequest)
		}
		var matches []map[string]any
		for _, rec := range m.records {
			if m.matches(rec, query) {
				matches = append(matches, rec)
			}
		}
		return page(matches, limit), nil
	default:
		return nil, fmt.Errorf("%w: unsupported action %q", plugin.ErrInvalidRequest, action)
	}
}

func (m *Memory) matches(rec map[string]any, query string) bool {
	fields := m.searchFields
	if len(fields) == 0 {
		fields = make([]string, 0, len(rec))
		for k := range rec {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}
	for _, field := range fields {
		if s, ok := rec[field].(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

func page(records []map[string]any, limit int) map[string]any {
	total := len(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, copyRecord(rec))
	}
	return map[string]any{"records": out, "total": total}
}

func copyRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func intInput(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Register adds the data providers to catalog.
func Register(catalog *plugin.Catalog) error {
	return catalog.Add(plugin.TypeDataConnector, "memory", NewMemoryConstructor)
}

var _ plugin.ActionConnector = (*Memory)(nil)
