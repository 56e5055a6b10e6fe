// Package prep maps type tags of document nodes to the processing units that
// implement them, and contains the built-in preparations and modulators.
package prep

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
	"github.com/vsariola/klavier/modulation"
)

type (
	// Factory builds the processing unit of a PREPARATION node.
	Factory func(n *doc.Node) (klavier.Node, error)

	Modulator = modulation.Modulator

	// ModulatorFactory builds the modulator of a MODULATOR node.
	ModulatorFactory func(n *doc.Node) (Modulator, error)

	// Registry maps type tags to factories.
	Registry struct {
		preps map[string]Factory
		mods  map[string]ModulatorFactory
	}
)

var ErrUnknownType = errors.New("unknown type")

func NewRegistry() *Registry {
	return &Registry{preps: map[string]Factory{}, mods: map[string]ModulatorFactory{}}
}

// DefaultRegistry returns a registry with every built-in preparation and
// modulator type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeGain, newGain)
	r.Register(TypeTone, newTone)
	r.Register(TypeOutput, newOutput)
	r.Register(TypeMIDIIn, newMIDIIn)
	r.Register(TypeModulation, func(*doc.Node) (klavier.Node, error) { return modulation.NewProcessor(), nil })
	r.RegisterModulator(TypeLFO, newLFO)
	r.RegisterModulator(TypeRamp, newRamp)
	r.RegisterModulator(TypeRandom, newRandom)
	r.RegisterModulator(TypeTuning, newTuning)
	return r
}

func (r *Registry) Register(typ string, f Factory)                   { r.preps[typ] = f }
func (r *Registry) RegisterModulator(typ string, f ModulatorFactory) { r.mods[typ] = f }

func (r *Registry) Has(typ string) bool {
	_, ok := r.preps[typ]
	return ok
}

func (r *Registry) HasModulator(typ string) bool {
	_, ok := r.mods[typ]
	return ok
}

// New builds the preparation for n, by the type property of n.
func (r *Registry) New(n *doc.Node) (klavier.Node, error) {
	typ := n.GetString(doc.KeyType, "")
	f, ok := r.preps[typ]
	if !ok {
		return nil, fmt.Errorf("preparation %q: %w", typ, ErrUnknownType)
	}
	ret, err := f(n)
	if err != nil {
		return nil, fmt.Errorf("could not create preparation %q: %w", typ, err)
	}
	return ret, nil
}

// NewModulator builds the modulator for n, by the type property of n.
func (r *Registry) NewModulator(n *doc.Node) (Modulator, error) {
	typ := n.GetString(doc.KeyType, "")
	f, ok := r.mods[typ]
	if !ok {
		return nil, fmt.Errorf("modulator %q: %w", typ, ErrUnknownType)
	}
	ret, err := f(n)
	if err != nil {
		return nil, fmt.Errorf("could not create modulator %q: %w", typ, err)
	}
	return ret, nil
}

// Types returns the registered preparation types, sorted.
func (r *Registry) Types() []string { return sortedKeys(r.preps) }

// ModulatorTypes returns the registered modulator types, sorted.
func (r *Registry) ModulatorTypes() []string { return sortedKeys(r.mods) }

func sortedKeys[T any](m map[string]T) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
