// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package plugintest provides in-memory host capabilities for testing plugins.
package plugintest

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/flipkit/flipkit/pkg/plugin"
)

// State is an in-memory persisted state container. Every merge replaces the
// Record with a new map, as a host does, and is recorded for inspection.
type State struct {
	mu      sync.Mutex
	current plugin.Record
	merges  []plugin.Record
}

// NewState creates a container holding initial.
func NewState(initial plugin.Record) *State {
	return &State{current: initial}
}

// MergePersistedState implements plugin.Merger.
func (s *State) MergePersistedState(partial plugin.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, partial)
	s.current = s.current.Merge(partial)
}

// Current returns the current Record.
func (s *State) Current() plugin.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Merges returns every partial update received, in order.
func (s *State) Merges() []plugin.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]plugin.Record(nil), s.merges...)
}

// Props returns instance props bound to this container.
func (s *State) Props(target plugin.Target) plugin.Props {
	return plugin.Props{
		PersistedState:    s.Current(),
		SetPersistedState: s,
		Target:            target,
	}
}

// Call is a recorded client call.
type Call struct {
	Method string
	Params any
}

// Client is a fake plugin.Client answering calls from a method table.
type Client struct {
	id        string
	mu        sync.Mutex
	responses map[string]any
	calls     []Call
}

var _ plugin.Client = (*Client)(nil)

// NewClient creates a client with the given id.
func NewClient(id string) *Client {
	return &Client{id: id, responses: make(map[string]any)}
}

// ID implements plugin.Target.
func (c *Client) ID() string { return c.id }

// Respond makes calls to method answer with result.
func (c *Client) Respond(method string, result any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[method] = result
}

// Call implements plugin.Client.
func (c *Client) Call(_ context.Context, method string, params any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method, Params: params})
	res, ok := c.responses[method]
	if !ok {
		return nil, oops.In("plugintest").With("method", method).Errorf("no response for %s", method)
	}
	return res, nil
}

// Calls returns the calls received so far.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Device is a fake plugin.Device.
type Device struct {
	Serial   string
	Platform string
	Name     string
	Archived bool
}

var _ plugin.Device = Device{}

// ID implements plugin.Target.
func (d Device) ID() string { return d.Serial }

// OS implements plugin.Device.
func (d Device) OS() string { return d.Platform }

// Title implements plugin.Device.
func (d Device) Title() string { return d.Name }

// IsArchived implements plugin.Device.
func (d Device) IsArchived() bool { return d.Archived }
