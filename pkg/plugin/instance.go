// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin

import (
	"context"
)

// Instance is one live plugin created by the host from a Definition.
type Instance struct {
	def   *Definition
	scope *Scope
}

// Definition returns the definition the instance was created from.
func (i *Instance) Definition() *Definition {
	return i.def
}

// Context derives the Context the instance's content would see for props.
func (i *Instance) Context(props Props) *Context {
	return i.scope.Value(props)
}

// Render renders the definition's content inside the instance scope.
func (i *Instance) Render(ctx context.Context, props Props) error {
	if i.def.content == nil {
		return nil
	}
	//nolint:wrapcheck // content errors belong to the plugin author
	return i.def.content(WithContext(ctx, i.scope.Value(props)))
}
