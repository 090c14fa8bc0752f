// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// Handler answers a client call.
type Handler func(ctx context.Context, params any) (any, error)

// LocalClient is an in-process plugin.Client whose calls are answered by
// registered handlers.
type LocalClient struct {
	id       string
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalClient creates a client with a fresh identifier.
func NewLocalClient() *LocalClient {
	return NewLocalClientWithID(NewID())
}

// NewLocalClientWithID creates a client with the given identifier.
func NewLocalClientWithID(id string) *LocalClient {
	return &LocalClient{id: id, handlers: make(map[string]Handler)}
}

// ID returns the client identifier.
func (c *LocalClient) ID() string {
	return c.id
}

// Handle registers fn as the handler for method, replacing any previous one.
func (c *LocalClient) Handle(method string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = fn
}

// Call dispatches method to its handler.
func (c *LocalClient) Call(ctx context.Context, method string, params any) (any, error) {
	c.mu.RLock()
	fn, ok := c.handlers[method]
	c.mu.RUnlock()

	if !ok {
		return nil, oops.In("host").
			Code("unknown_method").
			With("client", c.id).
			With("method", method).
			Errorf("client %s has no handler for %q", c.id, method)
	}
	return fn(ctx, params)
}
