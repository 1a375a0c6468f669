package history

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the named strategies an Engine can use: merge policies,
// effect inverters and effect decoders. It is safe for concurrent use so
// several engines can share one.
type Registry struct {
	mu        sync.RWMutex
	policies  map[string]MergePolicy
	inverters map[string]EffectInverter
	decoders  map[string]EffectDecoder
}

// NewRegistry returns a registry with the built-in merge policies.
func NewRegistry() *Registry {
	r := &Registry{
		policies:  make(map[string]MergePolicy),
		inverters: make(map[string]EffectInverter),
		decoders:  make(map[string]EffectDecoder),
	}
	r.policies[PolicyAdjacent] = Adjacent{}
	r.policies[PolicyAlways] = Always{}
	r.policies[PolicyNever] = Never{}
	r.policies[PolicyWords] = Words{Inner: Adjacent{}}
	return r
}

// RegisterPolicy adds a merge policy under name.
func (r *Registry) RegisterPolicy(name string, p MergePolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[name]; exists {
		return fmt.Errorf("merge policy %q already registered", name)
	}
	r.policies[name] = p
	return nil
}

// Policy looks up a merge policy by name.
func (r *Registry) Policy(name string) (MergePolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// RegisterInverter adds an effect inverter under name, replacing any
// inverter previously registered under the same name.
func (r *Registry) RegisterInverter(name string, inv EffectInverter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inverters[name] = inv
}

// RegisterEffect adds the decoder for effects of kind.
func (r *Registry) RegisterEffect(kind string, dec EffectDecoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[kind] = dec
}

func (r *Registry) decoder(kind string) (EffectDecoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dec, ok := r.decoders[kind]
	return dec, ok
}

// invertEffects runs every inverter over tr, in name order.
func (r *Registry) invertEffects(tr Transaction) []Effect {
	r.mu.RLock()
	names := make([]string, 0, len(r.inverters))
	for name := range r.inverters {
		names = append(names, name)
	}
	inverters := make([]EffectInverter, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		inverters = append(inverters, r.inverters[name])
	}
	r.mu.RUnlock()

	var out []Effect
	for _, inv := range inverters {
		out = append(out, inv.InvertEffects(tr)...)
	}
	return out
}
