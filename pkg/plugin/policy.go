package plugin

import (
	"fmt"
	"slices"
)

// Policy governs which capability types may be registered in a deployment.
// An empty allow list permits every type not explicitly denied.
type Policy struct {
	AllowedTypes []CapabilityType `yaml:"allowedTypes" json:"allowed_types,omitempty"`
	DeniedTypes  []CapabilityType `yaml:"deniedTypes" json:"denied_types,omitempty"`
}

// Permits returns ErrPolicyDenied when t may not be registered.
func (p Policy) Permits(t CapabilityType) error {
	if slices.Contains(p.DeniedTypes, t) {
		return fmt.Errorf("%w: %s is explicitly denied", ErrPolicyDenied, t)
	}
	if len(p.AllowedTypes) > 0 && !slices.Contains(p.AllowedTypes, t) {
		return fmt.Errorf("%w: %s is not in the allow list", ErrPolicyDenied, t)
	}
	return nil
}

// Merge returns a new policy using values from other when not present.
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedTypes) == 0 {
		p.AllowedTypes = other.AllowedTypes
	}
	if len(p.DeniedTypes) == 0 {
		p.DeniedTypes = other.DeniedTypes
	}
	return p
}

// Validate rejects unknown capability types in either list.
func (p Policy) Validate() error {
	for _, list := range [][]CapabilityType{p.AllowedTypes, p.DeniedTypes} {
		for _, t := range list {
			if !t.Valid() {
				return fmt.Errorf("%w: policy references unknown type %q", ErrInvalidConfig, t)
			}
		}
	}
	return nil
}
