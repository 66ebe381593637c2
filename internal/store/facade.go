package store

import "recordcore/pkg/domain"

// BasicFacade is the default facade implementation: a passive recorder of
// state-path updates, property notifications, and lifecycle triggers. Real
// embedders supply their own factory through WithFacadeFactory; this one
// keeps the store usable stand-alone and observable in tests.
type BasicFacade struct {
	identity  domain.Identity
	statePath string
	changed   []string
	events    []FacadeEvent
	destroyed bool
}

// FacadeEvent is one recorded lifecycle trigger.
type FacadeEvent struct {
	Name string
	Arg  any
}

// NewBasicFacade returns an empty recorder for the identity.
func NewBasicFacade(id domain.Identity, _ domain.EntitySchema) domain.Facade {
	return &BasicFacade{identity: id}
}

// Identity returns the identity the facade was materialized for.
func (f *BasicFacade) Identity() domain.Identity { return f.identity }

// StatePath returns the last state path pushed by the control block.
func (f *BasicFacade) StatePath() string { return f.statePath }

// ChangedProperties returns every property notification received, in order.
func (f *BasicFacade) ChangedProperties() []string {
	out := make([]string, len(f.changed))
	copy(out, f.changed)
	return out
}

// Events returns every lifecycle trigger received, in order.
func (f *BasicFacade) Events() []FacadeEvent {
	out := make([]FacadeEvent, len(f.events))
	copy(out, f.events)
	return out
}

// Destroyed reports whether the control block tore the facade down.
func (f *BasicFacade) Destroyed() bool { return f.destroyed }

func (f *BasicFacade) NotifyPropertyChange(key string) {
	f.changed = append(f.changed, key)
}

func (f *BasicFacade) SetStatePath(path string) { f.statePath = path }

func (f *BasicFacade) Trigger(event string, arg any) {
	f.events = append(f.events, FacadeEvent{Name: event, Arg: arg})
}

func (f *BasicFacade) Destroy() { f.destroyed = true }
