// ABOUTME: Named skill bundles an agent can enable from config
// ABOUTME: A skill is a set of protocol handlers plus behaviours installed into one agent

package skills

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/agent-runtime/internal/agent"
	"github.com/2389/agent-runtime/internal/behaviour"
	"github.com/2389/agent-runtime/internal/connection"
)

// Registry errors
var (
	ErrUnknownSkill   = errors.New("unknown skill")
	ErrDuplicateSkill = errors.New("skill already registered")
)

// Skill is the handlers and behaviours one named capability contributes.
type Skill struct {
	Name       string
	Handlers   []agent.Handler
	Behaviours []behaviour.Behaviour
}

// Factory builds a skill for a. cfg is the skill's opaque config map.
type Factory func(a *agent.Agent, cfg connection.Config) (*Skill, error)

// Registry maps skill names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry holding every skill shipped with the runtime.
func Builtin() *Registry {
	r := NewRegistry()
	_ = r.Register(EchoSkill, Echo)
	_ = r.Register(BalanceWatchSkill, BalanceWatch)
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered skill names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install builds the named skill and adds its handlers and behaviours to a.
func (r *Registry) Install(a *agent.Agent, name string, cfg connection.Config) (*Skill, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}

	s, err := f(a, cfg)
	if err != nil {
		return nil, fmt.Errorf("building skill %s: %w", name, err)
	}
	for _, h := range s.Handlers {
		if err := a.AddHandler(h); err != nil {
			return nil, fmt.Errorf("installing skill %s: %w", name, err)
		}
	}
	for _, b := range s.Behaviours {
		if err := a.AddBehaviour(b); err != nil {
			return nil, fmt.Errorf("installing skill %s: %w", name, err)
		}
	}
	a.Context().Logger().Info("skill installed",
		"skill", name,
		"handlers", len(s.Handlers),
		"behaviours", len(s.Behaviours),
	)
	return s, nil
}
