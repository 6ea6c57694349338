// Package toolctx carries ambient values into tool invocations. A Chain is an
// ordered list of immutable stores; lookups scan the stores in order and the
// first hit wins.
package toolctx

import (
	"fmt"
	"reflect"
)

type slot struct {
	typ reflect.Type
	key string
}

// Entry is a single value destined for a Store.
type Entry struct {
	slot  slot
	value any
}

// Value stores v under its static type T.
func Value[T any](v T) Entry {
	return Entry{slot: slot{typ: reflect.TypeFor[T]()}, value: v}
}

// Keyed stores v under T and key. Keyed and unkeyed values of the same type
// do not shadow each other.
func Keyed[T any](key string, v T) Entry {
	return Entry{slot: slot{typ: reflect.TypeFor[T](), key: key}, value: v}
}

// Store is an immutable set of values.
type Store struct {
	values map[slot]any
}

// NewStore builds a store. When two entries share a slot the later one wins.
func NewStore(entries ...Entry) *Store {
	s := &Store{values: make(map[slot]any, len(entries))}
	for _, e := range entries {
		if e.slot.typ == nil {
			continue
		}
		s.values[e.slot] = e.value
	}
	return s
}

// Len reports the number of values held.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

func (s *Store) lookup(sl slot) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[sl]
	return v, ok
}

// Chain is a priority ordered sequence of stores. The zero value is an empty
// chain.
type Chain struct {
	stores []*Store
}

// New returns a chain with one store holding entries.
func New(entries ...Entry) Chain {
	if len(entries) == 0 {
		return Chain{}
	}
	return Chain{stores: []*Store{NewStore(entries...)}}
}

// Of returns a chain over existing stores, highest priority first.
func Of(stores ...*Store) Chain {
	c := Chain{stores: make([]*Store, 0, len(stores))}
	for _, s := range stores {
		if s.Len() > 0 {
			c.stores = append(c.stores, s)
		}
	}
	return c
}

// Merge concatenates chains; earlier arguments take priority. Stores are
// shared, not copied, and the inputs are left untouched.
func Merge(chains ...Chain) Chain {
	n := 0
	for _, c := range chains {
		n += len(c.stores)
	}
	if n == 0 {
		return Chain{}
	}
	out := make([]*Store, 0, n)
	for _, c := range chains {
		out = append(out, c.stores...)
	}
	return Chain{stores: out}
}

// Len reports the number of stores in the chain.
func (c Chain) Len() int { return len(c.stores) }

// IsEmpty reports whether no store holds any value.
func (c Chain) IsEmpty() bool {
	for _, s := range c.stores {
		if s.Len() > 0 {
			return false
		}
	}
	return true
}

func (c Chain) find(sl slot) (any, bool) {
	for _, s := range c.stores {
		if v, ok := s.lookup(sl); ok {
			return v, true
		}
	}
	return nil, false
}

// Get returns the highest priority unkeyed value of type T.
func Get[T any](c Chain) (T, bool) {
	return GetKeyed[T](c, "")
}

// GetKeyed returns the highest priority value of type T stored under key.
func GetKeyed[T any](c Chain, key string) (T, bool) {
	var zero T
	v, ok := c.find(slot{typ: reflect.TypeFor[T](), key: key})
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		// Interface typed entries holding nil land here.
		return zero, v == nil
	}
	return typed, true
}

// MustGet is Get for values a tool cannot run without.
func MustGet[T any](c Chain) (T, error) {
	v, ok := Get[T](c)
	if !ok {
		return v, fmt.Errorf("toolctx: no %s in context", reflect.TypeFor[T]())
	}
	return v, nil
}
