package tool

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

// ErrToolNotFound is returned by operations addressing an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// Registration is the metadata stored next to a tool.
type Registration struct {
	// Group is the group the tool joins on registration. Empty means ungrouped.
	Group string
	// Extension adds properties to the tool's own schema.
	Extension schema.Schema
	// OriginClient names the integration the tool came from, e.g. an MCP server.
	OriginClient string
	// Presets are merged under every payload and hidden from the advertised schema.
	Presets map[string]any
	// Defaults is the lowest priority context chain for every call.
	Defaults toolctx.Chain
}

// Entry is an immutable registry record. Updates replace the whole entry.
type Entry struct {
	Name         string
	Tool         Tool
	Registration Registration
	// Schema is the tool schema composed with the registration extension.
	Schema schema.Schema
}

// Advertised returns the composed schema without preset properties.
func (e *Entry) Advertised() schema.Schema {
	if len(e.Registration.Presets) == 0 {
		return e.Schema.Clone()
	}
	return e.Schema.Without(sortedKeys(e.Registration.Presets)...)
}

// Registry keeps the mapping between tool names and implementations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register inserts or replaces the entry for name. The tool schema is composed
// with reg.Extension first; a conflicting extension leaves the registry
// untouched. The replaced entry, if any, is returned.
func (r *Registry) Register(name string, t Tool, reg Registration) (*Entry, error) {
	if t == nil {
		return nil, errors.New("tool is nil")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("tool name is empty")
	}
	composed, err := schema.Compose(t.Schema(), reg.Extension)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	reg.Presets = maps.Clone(reg.Presets)
	entry := &Entry{Name: name, Tool: t, Registration: reg, Schema: composed}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[name]
	r.entries[name] = entry
	return prev, nil
}

// Lookup fetches the entry registered under name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Remove deletes name. Removing an absent name is a no-op.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

// RemoveAll deletes every listed name and reports how many were present.
func (r *Registry) RemoveAll(names []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, name := range names {
		if _, ok := r.entries[name]; ok {
			delete(r.entries, name)
			n++
		}
	}
	return n
}

// RemoveByOrigin deletes every tool registered with the given origin client
// and returns their names in sorted order.
func (r *Registry) RemoveByOrigin(client string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for name, e := range r.entries {
		if e.Registration.OriginClient == client {
			delete(r.entries, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// UpdatePresets replaces the preset parameters of name.
func (r *Registry) UpdatePresets(name string, presets map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	next := *e
	next.Registration.Presets = maps.Clone(presets)
	r.entries[name] = &next
	return nil
}

// Names lists registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.entries)
}

// Entries produces a snapshot of all entries sorted by name.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
