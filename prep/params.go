package prep

import (
	"math"
	"sync/atomic"

	"github.com/vsariola/klavier/doc"
)

type (
	// Param documents one parameter of a preparation or modulator type.
	Param struct {
		Name        string  // property name in the document node
		Default     float32 // value when the property is missing
		Min, Max    float32
		CanModulate bool // if true, the parameter is a modulation destination
	}

	// Params holds the current base values of a fixed list of parameters.
	// Values are set on the UI goroutine and read on the audio goroutine.
	Params struct {
		defs   []Param
		values []atomic.Uint32
	}

	// ParamSetter is implemented by everything built by a Registry, so the
	// owner can forward property edits of the document node.
	ParamSetter interface {
		SetParam(name string, value float32) bool
	}
)

// newParams initializes the parameters from the properties of n.
func newParams(n *doc.Node, defs []Param) Params {
	p := Params{defs: defs, values: make([]atomic.Uint32, len(defs))}
	for i, d := range defs {
		v := d.Default
		if n != nil {
			v = float32(n.GetFloat(d.Name, float64(d.Default)))
		}
		p.set(i, v)
	}
	return p
}

func (p *Params) set(i int, v float32) {
	d := p.defs[i]
	if d.Max > d.Min {
		v = min(max(v, d.Min), d.Max)
	}
	p.values[i].Store(math.Float32bits(v))
}

// Get returns the value of parameter i.
func (p *Params) Get(i int) float32 { return math.Float32frombits(p.values[i].Load()) }

func (p *Params) SetParam(name string, value float32) bool {
	for i, d := range p.defs {
		if d.Name == name {
			p.set(i, value)
			return true
		}
	}
	return false
}

// ParamIndex returns the index of a modulatable parameter among the
// modulatable parameters, which is also its channel on the modulation bus.
func (p *Params) ParamIndex(name string) (int, bool) {
	i := 0
	for _, d := range p.defs {
		if !d.CanModulate {
			continue
		}
		if d.Name == name {
			return i, true
		}
		i++
	}
	return 0, false
}

// ParamNames returns the names of the modulatable parameters, in channel
// order.
func (p *Params) ParamNames() []string {
	var ret []string
	for _, d := range p.defs {
		if d.CanModulate {
			ret = append(ret, d.Name)
		}
	}
	return ret
}
