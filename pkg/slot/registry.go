// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package slot

// Name identifies one of the fixed behavior slots. The values are the names
// hosts use to look behaviors up on a plugin definition.
type Name string

// Behavior slots every plugin definition carries.
const (
	ActiveNotifications   Name = "getActiveNotifications"
	PersistedStateReducer Name = "persistedStateReducer"
	MetricsReducer        Name = "metricsReducer"
	ExportPersistedState  Name = "exportPersistedState"
	OnRegisterDevice      Name = "onRegisterDevice"
)

// Names returns the fixed slot names in declaration order.
func Names() []Name {
	return []Name{
		ActiveNotifications,
		PersistedStateReducer,
		MetricsReducer,
		ExportPersistedState,
		OnRegisterDevice,
	}
}

// Behaviors holds the initial behavior of each slot. Nil fields leave the
// slot empty.
type Behaviors struct {
	ActiveNotifications   any
	PersistedStateReducer any
	MetricsReducer        any
	ExportPersistedState  any
	OnRegisterDevice      any
}

func (b Behaviors) initial(name Name) any {
	switch name {
	case ActiveNotifications:
		return b.ActiveNotifications
	case PersistedStateReducer:
		return b.PersistedStateReducer
	case MetricsReducer:
		return b.MetricsReducer
	case ExportPersistedState:
		return b.ExportPersistedState
	case OnRegisterDevice:
		return b.OnRegisterDevice
	default:
		return nil
	}
}

// Setters replace the installed behavior of each slot. Each accepts either a
// func or a constant value, as Slot.Set does.
type Setters struct {
	SetActiveNotifications   func(behavior any)
	SetPersistedStateReducer func(behavior any)
	SetMetricsReducer        func(behavior any)
	SetExportPersistedState  func(behavior any)
	SetOnRegisterDevice      func(behavior any)
}

// Registry is the set of behavior slots belonging to one plugin definition.
// The set of slots is fixed at construction; only their contents change.
type Registry struct {
	slots map[Name]*Slot
}

// NewRegistry creates the fixed slots with their initial behaviors.
// defaults maps slot names to the value an empty slot answers with; slots
// without an entry answer with their first argument.
func NewRegistry(initial Behaviors, defaults map[Name]any) *Registry {
	r := &Registry{slots: make(map[Name]*Slot, len(Names()))}
	for _, name := range Names() {
		var opts []Option
		if v, ok := defaults[name]; ok {
			opts = append(opts, WithDefault(v))
		}
		r.slots[name] = New(name, initial.initial(name), opts...)
	}
	return r
}

// Lookup returns the slot with the given name.
func (r *Registry) Lookup(name Name) (*Slot, bool) {
	s, ok := r.slots[name]
	return s, ok
}

// Slot returns the slot with the given name. It panics on unknown names,
// which are programming errors since the set of slots is fixed.
func (r *Registry) Slot(name Name) *Slot {
	s, ok := r.slots[name]
	if !ok {
		panic("slot: unknown slot " + string(name))
	}
	return s
}

// Setters returns the setter for every slot.
func (r *Registry) Setters() Setters {
	return Setters{
		SetActiveNotifications:   r.Slot(ActiveNotifications).Set,
		SetPersistedStateReducer: r.Slot(PersistedStateReducer).Set,
		SetMetricsReducer:        r.Slot(MetricsReducer).Set,
		SetExportPersistedState:  r.Slot(ExportPersistedState).Set,
		SetOnRegisterDevice:      r.Slot(OnRegisterDevice).Set,
	}
}
