package prep

import (
	"math"
	"math/rand/v2"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
)

// Built-in modulator types.
const (
	TypeLFO    = "lfo"
	TypeRamp   = "ramp"
	TypeRandom = "random"
	TypeTuning = "tuning"
)

var ModulatorParams = map[string][]Param{
	TypeLFO:    {{Name: "rate", Default: 1, Min: 0, Max: 100}},
	TypeRamp:   {{Name: "time", Default: 0.5, Min: 0.001, Max: 60}},
	TypeRandom: {{Name: "rate", Default: 4, Min: 0.01, Max: 100}},
	TypeTuning: {{Name: "offset", Default: 0, Min: -48, Max: 48}},
}

type (
	lfo struct {
		Params
		sampleRate float64
		phase      float64
	}

	// ramp rises linearly from -1 to 1 over time seconds after every
	// trigger and then holds.
	ramp struct {
		Params
		sampleRate float64
		pos        float64
	}

	// random is a sample and hold of uniform noise.
	random struct {
		Params
		sampleRate float64
		phase      float64
		value      float32
		rnd        *rand.Rand
	}

	// tuning feeds state connections with a tuning offset in semitones.
	tuning struct {
		Params
	}
)

func newLFO(n *doc.Node) (Modulator, error) {
	return &lfo{Params: newParams(n, ModulatorParams[TypeLFO]), sampleRate: 44100}, nil
}

func (l *lfo) Prepare(sampleRate float64) { l.sampleRate = sampleRate }

func (l *lfo) Render(out []float32) {
	step := float64(l.Get(0)) / l.sampleRate
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * l.phase))
		l.phase += step
		l.phase -= math.Floor(l.phase)
	}
}

func newRamp(n *doc.Node) (Modulator, error) {
	return &ramp{Params: newParams(n, ModulatorParams[TypeRamp]), sampleRate: 44100}, nil
}

func (r *ramp) Prepare(sampleRate float64) { r.sampleRate = sampleRate }
func (r *ramp) Trigger()                   { r.pos = 0 }

func (r *ramp) Render(out []float32) {
	step := 1 / (float64(r.Get(0)) * r.sampleRate)
	for i := range out {
		out[i] = float32(2*r.pos - 1)
		r.pos = min(r.pos+step, 1)
	}
}

func newRandom(n *doc.Node) (Modulator, error) {
	seed := uint64(n.GetInt("seed", 1))
	return &random{
		Params:     newParams(n, ModulatorParams[TypeRandom]),
		sampleRate: 44100,
		rnd:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

func (r *random) Prepare(sampleRate float64) { r.sampleRate = sampleRate }

func (r *random) Render(out []float32) {
	step := float64(r.Get(0)) / r.sampleRate
	for i := range out {
		if r.phase == 0 {
			r.value = r.rnd.Float32()*2 - 1
		}
		out[i] = r.value
		r.phase += step
		if r.phase >= 1 {
			r.phase = 0
		}
	}
}

func newTuning(n *doc.Node) (Modulator, error) {
	return &tuning{Params: newParams(n, ModulatorParams[TypeTuning])}, nil
}

func (t *tuning) Prepare(float64)      {}
func (t *tuning) Render(out []float32) { clear(out) }

// State returns the change pushed into tuning destinations.
func (t *tuning) State() klavier.State {
	return klavier.State{TuningKey: t.Get(0)}
}
