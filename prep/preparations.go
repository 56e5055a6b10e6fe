package prep

import (
	"math"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
)

// Built-in preparation types.
const (
	TypeGain       = "gain"
	TypeTone       = "tone"
	TypeOutput     = "output"
	TypeMIDIIn     = "midiin"
	TypeModulation = "modulation"
)

// Parameters of the built-in preparations.
var PreparationParams = map[string][]Param{
	TypeGain: {
		{Name: "gain", Default: 1, Min: 0, Max: 4, CanModulate: true},
	},
	TypeTone: {
		{Name: "freq", Default: 440, Min: 1, Max: 20000, CanModulate: true},
		{Name: "level", Default: 0.5, Min: 0, Max: 1, CanModulate: true},
	},
}

// TuningKey is the state key a tone reads its tuning offset, in semitones,
// from.
const TuningKey = "tuning"

// stereoLayout is the layout of the effect-like preparations: stereo audio
// in and out, and a modulation input bus after the audio inputs, so that
// modulation channel i is buffer channel 2+i.
func stereoLayout() klavier.Layout {
	return klavier.Layout{
		Inputs: []klavier.Bus{
			{Name: "Input", Channels: 2, Enabled: true},
			{Name: klavier.ModulationBus, Channels: 1},
		},
		Outputs: []klavier.Bus{{Name: "Output", Channels: 2, Enabled: true}},
	}
}

const modulationOffset = 2

// modInput returns the modulation input of parameter i, or nil if no
// modulation reaches it.
func modInput(audio klavier.AudioBuffer, i int) []float32 {
	if ch := modulationOffset + i; ch < len(audio) {
		return audio[ch]
	}
	return nil
}

type (
	gain struct {
		Params
		tmp []float32
	}

	tone struct {
		Params
		sampleRate float64
		phase      float64
		tuning     atomic.Uint32 // float32 bits, semitones
		note       atomic.Int32  // last MIDI key, -1 for none
	}

	output struct{}
	midiIn struct{}
)

func newGain(n *doc.Node) (klavier.Node, error) {
	return &gain{Params: newParams(n, PreparationParams[TypeGain])}, nil
}

func (g *gain) Layout() klavier.Layout { return stereoLayout() }

func (g *gain) Prepare(_ float64, blockSize int) { g.tmp = make([]float32, blockSize) }

func (g *gain) ProcessBlock(audio klavier.AudioBuffer, _ *klavier.MIDIBuffer) {
	frames := min(audio.Frames(), len(g.tmp))
	base := g.Get(0)
	mod := modInput(audio, 0)
	if mod == nil {
		for ch := 0; ch < 2 && ch < len(audio); ch++ {
			vek32.MulNumber_Inplace(audio[ch][:frames], base)
		}
		return
	}
	amount := vek32.AddNumber_Into(g.tmp[:frames], mod[:frames], base)
	for ch := 0; ch < 2 && ch < len(audio); ch++ {
		vek32.Mul_Inplace(audio[ch][:frames], amount)
	}
}

func newTone(n *doc.Node) (klavier.Node, error) {
	t := &tone{Params: newParams(n, PreparationParams[TypeTone]), sampleRate: 44100}
	t.note.Store(-1)
	return t, nil
}

func (t *tone) Layout() klavier.Layout { return stereoLayout() }

func (t *tone) Prepare(sampleRate float64, _ int) { t.sampleRate = sampleRate }

// ReceiveState applies a tuning offset pushed by a state connection.
func (t *tone) ReceiveState(change klavier.State) {
	if v, ok := change[TuningKey]; ok {
		t.tuning.Store(math.Float32bits(v))
	}
}

// Tuning returns the current tuning offset in semitones.
func (t *tone) Tuning() float32 { return math.Float32frombits(t.tuning.Load()) }

// ProcessBlock writes a sine to both outputs. Modulation of freq is in
// octaves, modulation of level is added to the level. A note-on retunes the
// tone to the key.
func (t *tone) ProcessBlock(audio klavier.AudioBuffer, midi *klavier.MIDIBuffer) {
	midi.NoteOns(func(_ int, _, key, _ uint8) { t.note.Store(int32(key)) })
	freq := float64(t.Get(0))
	if key := t.note.Load(); key >= 0 {
		freq = 440 * math.Exp2(float64(key-69)/12)
	}
	freq *= math.Exp2(float64(t.Tuning()) / 12)
	level := t.Get(1)
	freqMod, levelMod := modInput(audio, 0), modInput(audio, 1)
	if len(audio) < 2 {
		return
	}
	for i := range audio[0] {
		f, l := freq, level
		if freqMod != nil {
			f *= math.Exp2(float64(freqMod[i]))
		}
		if levelMod != nil {
			l += levelMod[i]
		}
		v := l * float32(math.Sin(2*math.Pi*t.phase))
		audio[0][i], audio[1][i] = v, v
		t.phase += f / t.sampleRate
		t.phase -= math.Floor(t.phase)
	}
}

func newOutput(*doc.Node) (klavier.Node, error) { return output{}, nil }

func (output) Layout() klavier.Layout {
	return klavier.Layout{
		Inputs:  []klavier.Bus{{Name: "Input", Channels: 2, Enabled: true}},
		Outputs: []klavier.Bus{{Name: "Output", Channels: 2, Enabled: true}},
	}
}
func (output) Prepare(float64, int)                                  {}
func (output) ProcessBlock(klavier.AudioBuffer, *klavier.MIDIBuffer) {}

// midiIn has no audio; the host MIDI it receives is passed on unchanged to
// the nodes connected to its MIDI port.
func newMIDIIn(*doc.Node) (klavier.Node, error) { return midiIn{}, nil }

func (midiIn) Layout() klavier.Layout                                { return klavier.Layout{} }
func (midiIn) Prepare(float64, int)                                  {}
func (midiIn) ProcessBlock(klavier.AudioBuffer, *klavier.MIDIBuffer) {}
