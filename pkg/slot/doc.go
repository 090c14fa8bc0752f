// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package slot provides replaceable behavior slots for plugin definitions.
//
// A Slot holds at most one installed behavior. Invoking a slot dispatches to
// the installed behavior; when none is installed it answers with the
// configured default, or with its first argument when no default exists.
// This makes an empty slot behave as a pass-through reducer:
//
//	s := slot.New(slot.PersistedStateReducer, nil)
//	state, _ := s.Invoke(ctx, state, "method", data) // state unchanged
//
// Set accepts either a func (installed as the new behavior) or any other
// value (installed as a behavior that always answers with that value).
//
// Slots are created once per plugin definition and shared by every instance
// of that definition. Replacing a behavior is visible to all instances.
package slot
