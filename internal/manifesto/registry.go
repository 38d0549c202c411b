package manifesto

import (
	"sync"

	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// ActionFunc is the callable half of a registered Action: the side
// effect or payload mutation a Call invokes. Returning false signals
// failure (the Talker turns it into r=Negative).
type ActionFunc func(t TalkerView, msg *protocol.Message, match protocol.MatchKind) bool

// BaseManifesto is a ready-to-use Manifesto backed by an ordered,
// mutex-protected action list. Hosts compose it by embedding, the way
// a custom operation set would embed a registry, or use it directly
// when no extra hooks are needed.
type BaseManifesto struct {
	mu      sync.RWMutex
	order   []string
	actions map[string]Action
	funcs   map[string]ActionFunc
	class   string
}

// NewBaseManifesto creates an empty manifesto with the given class
// description (used for System/Manifesto introspection).
func NewBaseManifesto(class string) *BaseManifesto {
	return &BaseManifesto{
		actions: make(map[string]Action),
		funcs:   make(map[string]ActionFunc),
		class:   class,
	}
}

// Register adds an action to the end of the declared order. Returns a
// *ValidationError if the combined name+description budget is
// exceeded or the action name is already registered.
func (b *BaseManifesto) Register(name, description string, fn ActionFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.actions[name]; exists {
		return &ValidationError{Action: name, Message: "already registered"}
	}
	a := Action{Name: name, Description: description}
	if err := CheckActions(append(append([]Action{}, b.orderedLocked()...), a)); err != nil {
		return err
	}
	b.order = append(b.order, name)
	b.actions[name] = a
	b.funcs[name] = fn
	return nil
}

// MustRegister is Register, panicking on error. Intended for use in a
// host's init-time manifesto construction.
func (b *BaseManifesto) MustRegister(name, description string, fn ActionFunc) {
	if err := b.Register(name, description, fn); err != nil {
		panic(err)
	}
}

func (b *BaseManifesto) orderedLocked() []Action {
	out := make([]Action, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.actions[name])
	}
	return out
}

// Actions implements Manifesto.
func (b *BaseManifesto) Actions() []Action {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.orderedLocked()
}

// IndexOf implements Manifesto.
func (b *BaseManifesto) IndexOf(name string) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, n := range b.order {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// ActionByIndex implements Manifesto.
func (b *BaseManifesto) ActionByIndex(idx int, t TalkerView, msg *protocol.Message, match protocol.MatchKind) bool {
	b.mu.RLock()
	if idx < 0 || idx >= len(b.order) {
		b.mu.RUnlock()
		return false
	}
	name := b.order[idx]
	fn := b.funcs[name]
	b.mu.RUnlock()
	if fn == nil {
		return false
	}
	return fn(t, msg, match)
}

// ClassDescription implements Manifesto.
func (b *BaseManifesto) ClassDescription() string { return b.class }
