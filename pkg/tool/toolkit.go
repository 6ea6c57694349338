package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/capkit/pkg/schema"
)

// Definition is what a tool advertises to a model or client.
type Definition struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  schema.Schema `json:"parameters"`
}

// Toolkit ties the registry, group manager and executor together. It is the
// entry point hosts use; create one with New and pass it by reference.
type Toolkit struct {
	// mu serialises compound mutations that touch both registry and groups.
	mu       sync.Mutex
	registry *Registry
	groups   *GroupManager
	executor *Executor
	log      zerolog.Logger
}

// New builds an empty toolkit.
func New(opts ...Option) *Toolkit {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	registry := NewRegistry()
	groups := NewGroupManager(o.logger)
	return &Toolkit{
		registry: registry,
		groups:   groups,
		executor: NewExecutor(registry, groups, opts...),
		log:      o.logger.With().Str("component", "toolkit").Logger(),
	}
}

// Register adds t or replaces an existing tool of the same name. A group
// passed with WithGroup must already exist; the tool joins it in addition to
// any group it was already a member of.
func (k *Toolkit) Register(t Tool, opts ...RegisterOption) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	ro := registerOptions{name: t.Name()}
	for _, opt := range opts {
		opt(&ro)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if g := ro.reg.Group; g != "" && !k.groups.Exists(g) {
		return fmt.Errorf("register %s: %w: %s", ro.name, ErrGroupNotFound, g)
	}
	prev, err := k.registry.Register(ro.name, t, ro.reg)
	if err != nil {
		return err
	}
	if ro.reg.Group != "" {
		k.groups.AddToGroup(ro.reg.Group, ro.name)
	}
	ev := k.log.Debug().Str("tool", ro.name).Str("group", ro.reg.Group)
	if prev != nil {
		ev = ev.Bool("replaced", true)
	}
	ev.Msg("tool registered")
	return nil
}

// Remove deletes tools and their group memberships.
func (k *Toolkit) Remove(names ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.registry.RemoveAll(names)
	k.groups.Forget(names...)
}

// RemoveByOrigin deletes every tool that came from client.
func (k *Toolkit) RemoveByOrigin(client string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := k.registry.RemoveByOrigin(client)
	k.groups.Forget(removed...)
	return removed
}

// CreateGroup adds a group.
func (k *Toolkit) CreateGroup(name, description string, active bool) error {
	return k.groups.CreateGroup(name, description, active)
}

// AddToGroup adds registered tools to a group. Unknown groups are ignored.
func (k *Toolkit) AddToGroup(group string, tools ...string) {
	k.groups.AddToGroup(group, tools...)
}

// RemoveFromGroup removes tools from a group. Unknown groups are ignored.
func (k *Toolkit) RemoveFromGroup(group string, tools ...string) {
	k.groups.RemoveFromGroup(group, tools...)
}

// SetGroupsActive activates or deactivates groups. It fails without changing
// anything when a name is unknown.
func (k *Toolkit) SetGroupsActive(names []string, active bool) error {
	if err := k.groups.SetActive(names, active); err != nil {
		return err
	}
	k.log.Info().Strs("groups", names).Bool("active", active).Msg("groups updated")
	return nil
}

// RemoveGroups deletes groups together with their member tools and returns
// the removed tool names.
func (k *Toolkit) RemoveGroups(names []string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	members := k.groups.RemoveGroups(names)
	k.registry.RemoveAll(members)
	k.groups.Forget(members...)
	return members
}

// UpdatePresets replaces the preset parameters of a registered tool.
func (k *Toolkit) UpdatePresets(name string, params map[string]any) error {
	return k.registry.UpdatePresets(name, params)
}

// ToolNames lists every registered tool in sorted order.
func (k *Toolkit) ToolNames() []string { return k.registry.Names() }

// ActiveGroupNames lists active groups in sorted order.
func (k *Toolkit) ActiveGroupNames() []string { return k.groups.ActiveNames() }

// Groups returns snapshots of every group.
func (k *Toolkit) Groups() []Group { return k.groups.Groups() }

// Lookup returns the registry entry for name.
func (k *Toolkit) Lookup(name string) (*Entry, bool) { return k.registry.Lookup(name) }

// IsCallable reports whether name is registered and authorised.
func (k *Toolkit) IsCallable(name string) bool {
	if _, ok := k.registry.Lookup(name); !ok {
		return false
	}
	return k.groups.IsCallable(name)
}

// ComposedSchema returns the advertised schema of name: the tool schema plus
// its extension, with preset properties removed.
func (k *Toolkit) ComposedSchema(name string) (schema.Schema, error) {
	e, ok := k.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.Advertised(), nil
}

// Definitions lists advertised definitions of callable tools sorted by name.
func (k *Toolkit) Definitions() []Definition {
	var out []Definition
	for _, e := range k.registry.Entries() {
		if !k.groups.IsCallable(e.Name) {
			continue
		}
		out = append(out, Definition{
			Name:        e.Name,
			Description: e.Tool.Description(),
			Parameters:  e.Advertised(),
		})
	}
	return out
}

// ActivatedGroupsNotice describes the active groups in a form suitable for a
// system prompt.
func (k *Toolkit) ActivatedGroupsNotice() string {
	var active []Group
	for _, g := range k.groups.Groups() {
		if g.Active {
			active = append(active, g)
		}
	}
	if len(active) == 0 {
		return "No tool groups are currently active."
	}
	var b strings.Builder
	b.WriteString("Activated tool groups:\n")
	for _, g := range active {
		b.WriteString("- ")
		b.WriteString(g.Name)
		if g.Description != "" {
			b.WriteString(": ")
			b.WriteString(g.Description)
		}
		b.WriteString("\n")
		if len(g.Members) > 0 {
			b.WriteString("  tools: ")
			b.WriteString(strings.Join(g.Members, ", "))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Invoke runs a batch. len(result) == len(reqs) and result[i] answers reqs[i].
func (k *Toolkit) Invoke(ctx context.Context, reqs []Request, opts ...InvokeOption) []Result {
	var io invokeOptions
	for _, opt := range opts {
		opt(&io)
	}
	sequential := k.executor.opts.sequential
	if io.sequential != nil {
		sequential = *io.sequential
	}
	return k.executor.Execute(ctx, reqs, io.session, sequential)
}
