// Package registry implements the spec's MessageRegistry (component C):
// a read-only, action-name-keyed table of {request-converter,
// response-converter} pairs, one table per OCPP version. It generalizes
// the teacher's reflection-based payload-type lookup
// (internal/domain/serialization.Serializer.GetPayloadType) into a
// first-class component with pure from_json/to_json converter functions.
package registry

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/charging-platform/charge-point-gateway/internal/domain/protocol"
)

// Converter translates between a typed domain struct and JSON. Both
// directions are pure: no I/O, no shared mutable state.
type Converter struct {
	payloadType reflect.Type
}

// NewConverter builds a Converter for the given zero-value struct, e.g.
// NewConverter(ocpp16.BootNotificationRequest{}).
func NewConverter(zero interface{}) Converter {
	return Converter{payloadType: reflect.TypeOf(zero)}
}

// New allocates a fresh instance of the converter's payload type.
func (c Converter) New() interface{} {
	return reflect.New(c.payloadType).Interface()
}

// FromJSON decodes raw into a fresh instance of the payload type.
func (c Converter) FromJSON(raw json.RawMessage) (interface{}, error) {
	target := c.New()
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.payloadType.Name(), err)
	}
	return target, nil
}

// ToJSON encodes a typed value back to JSON.
func (c Converter) ToJSON(value interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.payloadType.Name(), err)
	}
	return data, nil
}

// ActionBinding is one action's request/response converter pair.
type ActionBinding struct {
	Action            string
	RequestConverter  Converter
	ResponseConverter Converter
}

// Registry is the read-only action→binding table for one OCPP version.
// It is populated once at construction; Lookup is O(1) thereafter.
type Registry struct {
	version  string
	bindings map[string]ActionBinding
}

// ErrUnknownAction is returned by Lookup when the action has no binding;
// callers translate this into CallError{NotImplemented} per spec §4.C.
var ErrUnknownAction = fmt.Errorf("unknown action")

// New builds a Registry for a single OCPP version from a fixed set of
// bindings. The slice is copied into an internal map; the Registry never
// mutates after construction.
func New(version string, bindings []ActionBinding) *Registry {
	m := make(map[string]ActionBinding, len(bindings))
	for _, b := range bindings {
		m[b.Action] = b
	}
	return &Registry{version: version, bindings: m}
}

// Version returns the OCPP version this registry serves.
func (r *Registry) Version() string { return r.version }

// Lookup returns the binding for action, or ErrUnknownAction.
func (r *Registry) Lookup(action string) (ActionBinding, error) {
	b, ok := r.bindings[action]
	if !ok {
		return ActionBinding{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return b, nil
}

// Actions returns the sorted set of actions this registry knows, mostly
// useful for diagnostics and GetSupportedActions-style reporting.
func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.bindings))
	for a := range r.bindings {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Set holds one Registry per supported OCPP version, keyed by the
// protocol package's normalized version string.
type Set struct {
	mu         sync.RWMutex
	registries map[string]*Registry
}

// NewSet builds an empty multi-version registry set.
func NewSet() *Set {
	return &Set{registries: make(map[string]*Registry)}
}

// Register installs reg for the given version. Intended to be called
// only during startup wiring; the Set is read-only in steady state.
func (s *Set) Register(version string, reg *Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registries[protocol.NormalizeVersion(version)] = reg
}

// For returns the Registry bound to version, if any.
func (s *Set) For(version string) (*Registry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registries[protocol.NormalizeVersion(version)]
	return reg, ok
}
