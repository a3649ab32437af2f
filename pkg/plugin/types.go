package plugin

import (
	"fmt"
	"strings"
	"time"
)

// CapabilityType is the closed set of connector categories. Each value has its
// own execution contract, see Connector and the typed interfaces below.
type CapabilityType string

const (
	TypeAPIConnector     CapabilityType = "api_connector"
	TypeVideoChat        CapabilityType = "video_chat"
	TypeASLInterpreter   CapabilityType = "asl_interpreter"
	TypePaymentProcessor CapabilityType = "payment_processor"
	TypeAuthentication   CapabilityType = "authentication"
	TypeDataConnector    CapabilityType = "data_connector"
	TypeUIComponent      CapabilityType = "ui_component"
)

// CapabilityTypes lists every supported capability type in a stable order.
func CapabilityTypes() []CapabilityType {
	return []CapabilityType{
		TypeAPIConnector,
		TypeVideoChat,
		TypeASLInterpreter,
		TypePaymentProcessor,
		TypeAuthentication,
		TypeDataConnector,
		TypeUIComponent,
	}
}

// Valid reports whether t is one of the known capability types.
func (t CapabilityType) Valid() bool {
	switch t {
	case TypeAPIConnector, TypeVideoChat, TypeASLInterpreter, TypePaymentProcessor,
		TypeAuthentication, TypeDataConnector, TypeUIComponent:
		return true
	}
	return false
}

// generic reports whether t is served by the ActionConnector contract.
func (t CapabilityType) generic() bool {
	switch t {
	case TypePaymentProcessor, TypeAuthentication, TypeDataConnector, TypeUIComponent:
		return true
	}
	return false
}

// ParseCapabilityType accepts the canonical lower-case form as well as the
// upper-case enum spelling (API_CONNECTOR).
func ParseCapabilityType(raw string) (CapabilityType, error) {
	t := CapabilityType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown capability type %q", ErrInvalidRequest, raw)
	}
	return t, nil
}

// Descriptor is the metadata view of a registered connector. It never exposes
// the live connector instance.
type Descriptor struct {
	Name         string         `json:"name"`
	Type         CapabilityType `json:"type"`
	Provider     string         `json:"provider,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Enabled      bool           `json:"enabled"`
	RegisteredAt time.Time      `json:"registered_at"`
}
