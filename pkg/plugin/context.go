// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin

import (
	"context"
	"sync"

	"github.com/flipkit/flipkit/pkg/slot"
)

// Context is what a plugin's content sees while it renders: identity, the
// instance's props, the definition's behavior setters and a key-scoped
// accessor over the persisted state.
//
// A Context is a snapshot. Content must not keep it across renders and must
// not modify it; updates go through SetPersistedState or UsePersistedState.
type Context struct {
	ID     string
	Client Client
	Props
	slot.Setters

	accessor *Accessor
}

// UsePersistedState returns the value at key and a setter that merges a new
// value for key into the persisted state.
func (c *Context) UsePersistedState(key string) (any, KeySetter) {
	return c.accessor.Key(key)
}

// Accessor returns the accessor behind UsePersistedState. It is the same
// pointer across renders for as long as the persisted state and its Merger
// are unchanged.
func (c *Context) Accessor() *Accessor {
	return c.accessor
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying pc.
func WithContext(ctx context.Context, pc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, pc)
}

// FromContext returns the plugin Context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	pc, ok := ctx.Value(contextKey{}).(*Context)
	return pc, ok && pc != nil
}

// Scope derives the Context for one plugin instance. It keeps the Accessor
// while the persisted state map and Merger stay the same and replaces it as
// soon as either changes.
type Scope struct {
	id      string
	client  Client
	setters slot.Setters

	mu       sync.Mutex
	accessor *Accessor
}

// NewScope creates a scope for the instance identified by id.
func NewScope(id string, client Client, setters slot.Setters) *Scope {
	return &Scope{id: id, client: client, setters: setters}
}

// Value builds the Context for one render with props.
func (s *Scope) Value(props Props) *Context {
	return &Context{
		ID:       s.id,
		Client:   s.client,
		Props:    props,
		Setters:  s.setters,
		accessor: s.accessorFor(props.PersistedState, props.SetPersistedState),
	}
}

func (s *Scope) accessorFor(record Record, merge Merger) *Accessor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a := s.accessor; a != nil && sameRecord(a.record, record) && sameMerger(a.merge, merge) {
		return a
	}
	s.accessor = NewAccessor(record, merge)
	return s.accessor
}
