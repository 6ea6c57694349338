package tool

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrGroupExists is returned when creating a group whose name is taken.
	ErrGroupExists = errors.New("tool group already exists")
	// ErrGroupNotFound is returned when changing the state of an unknown group.
	ErrGroupNotFound = errors.New("tool group not found")
)

// Group is a snapshot of a tool group.
type Group struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Active      bool     `json:"active"`
	Members     []string `json:"members"`
}

type group struct {
	description string
	active      bool
	members     map[string]struct{}
}

func (g *group) snapshot(name string) Group {
	return Group{
		Name:        name,
		Description: g.description,
		Active:      g.active,
		Members:     sortedKeys(g.members),
	}
}

// GroupManager tracks tool groups and decides whether a tool may be called.
// Membership edits on unknown groups are ignored with a warning; activation
// changes on unknown groups fail.
type GroupManager struct {
	mu     sync.RWMutex
	groups map[string]*group
	log    zerolog.Logger
}

// NewGroupManager creates an empty manager.
func NewGroupManager(logger zerolog.Logger) *GroupManager {
	return &GroupManager{
		groups: make(map[string]*group),
		log:    logger.With().Str("component", "groups").Logger(),
	}
}

// CreateGroup adds a group. It never overwrites an existing one.
func (m *GroupManager) CreateGroup(name, description string, active bool) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("group name is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	m.groups[name] = &group{
		description: description,
		active:      active,
		members:     make(map[string]struct{}),
	}
	return nil
}

// Exists reports whether name is a known group.
func (m *GroupManager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[name]
	return ok
}

// AddToGroup adds tools to a group.
func (m *GroupManager) AddToGroup(groupName string, tools ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupName]
	if !ok {
		m.log.Warn().Str("group", groupName).Strs("tools", tools).Msg("add to unknown group ignored")
		return
	}
	for _, t := range tools {
		g.members[t] = struct{}{}
	}
}

// RemoveFromGroup removes tools from a group.
func (m *GroupManager) RemoveFromGroup(groupName string, tools ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupName]
	if !ok {
		m.log.Warn().Str("group", groupName).Strs("tools", tools).Msg("remove from unknown group ignored")
		return
	}
	for _, t := range tools {
		delete(g.members, t)
	}
}

// Forget drops tools from every group.
func (m *GroupManager) Forget(tools ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, t := range tools {
			delete(g.members, t)
		}
	}
}

// SetActive flips the active flag of every named group. All names are checked
// first so an unknown name leaves every group unchanged.
func (m *GroupManager) SetActive(names []string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []string
	for _, name := range names {
		if _, ok := m.groups[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, strings.Join(missing, ", "))
	}
	for _, name := range names {
		m.groups[name].active = active
	}
	return nil
}

// RemoveGroups deletes the named groups and returns the sorted union of their
// members. Unknown names are skipped.
func (m *GroupManager) RemoveGroups(names []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make(map[string]struct{})
	for _, name := range names {
		g, ok := m.groups[name]
		if !ok {
			m.log.Warn().Str("group", name).Msg("remove unknown group ignored")
			continue
		}
		for t := range g.members {
			members[t] = struct{}{}
		}
		delete(m.groups, name)
	}
	return sortedKeys(members)
}

// IsCallable reports whether tool is ungrouped or belongs to at least one
// active group.
func (m *GroupManager) IsCallable(tool string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := false
	for _, g := range m.groups {
		if _, ok := g.members[tool]; !ok {
			continue
		}
		if g.active {
			return true
		}
		owned = true
	}
	return !owned
}

// GroupsOf lists the groups tool belongs to in sorted order.
func (m *GroupManager) GroupsOf(tool string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, g := range m.groups {
		if _, ok := g.members[tool]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Group returns a snapshot of name.
func (m *GroupManager) Group(name string) (Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[name]
	if !ok {
		return Group{}, false
	}
	return g.snapshot(name), true
}

// Groups returns snapshots of every group sorted by name.
func (m *GroupManager) Groups() []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Group, 0, len(m.groups))
	for _, name := range sortedKeys(m.groups) {
		out = append(out, m.groups[name].snapshot(name))
	}
	return out
}

// ActiveNames lists active groups in sorted order.
func (m *GroupManager) ActiveNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, g := range m.groups {
		if g.active {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
