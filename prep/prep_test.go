package prep_test

import (
	"errors"
	"math"
	"testing"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
	"github.com/vsariola/klavier/modulation"
	"github.com/vsariola/klavier/prep"
)

func prepNode(typ string, keyValues ...any) *doc.Node {
	return doc.NewNode(doc.TypePreparation, append([]any{doc.KeyType, typ}, keyValues...)...)
}

func TestRegistryUnknownType(t *testing.T) {
	r := prep.DefaultRegistry()
	if _, err := r.New(prepNode("theremin")); !errors.Is(err, prep.ErrUnknownType) {
		t.Errorf("got %v, want ErrUnknownType", err)
	}
	if _, err := r.NewModulator(doc.NewNode(doc.TypeModulator, doc.KeyType, "sequencer")); !errors.Is(err, prep.ErrUnknownType) {
		t.Errorf("got %v, want ErrUnknownType", err)
	}
	for _, typ := range r.Types() {
		if _, err := r.New(prepNode(typ)); err != nil {
			t.Errorf("built-in type %q: %v", typ, err)
		}
	}
	n, _ := r.New(prepNode(prep.TypeModulation))
	if _, ok := n.(*modulation.Processor); !ok {
		t.Errorf("modulation preparation is a %T", n)
	}
}

func TestGainFollowsModulation(t *testing.T) {
	n, err := prep.DefaultRegistry().New(prepNode(prep.TypeGain, "gain", 0.5))
	if err != nil {
		t.Fatal(err)
	}
	n.Prepare(44100, 4)
	m := n.(klavier.Modulatable)
	if i, ok := m.ParamIndex("gain"); !ok || i != 0 {
		t.Fatalf("ParamIndex(gain) = %d, %v", i, ok)
	}
	audio := klavier.MakeAudioBuffer(3, 4)
	for i := 0; i < 4; i++ {
		audio[0][i], audio[1][i] = 1, 2
		audio[2][i] = float32(i) * 0.25
	}
	n.ProcessBlock(audio, nil)
	for i := 0; i < 4; i++ {
		want := 0.5 + float32(i)*0.25
		if audio[0][i] != want || audio[1][i] != 2*want {
			t.Errorf("frame %d: got (%v, %v), want (%v, %v)", i, audio[0][i], audio[1][i], want, 2*want)
		}
	}
	n.(prep.ParamSetter).SetParam("gain", 100)
	audio = klavier.MakeAudioBuffer(2, 4)
	audio[0][0] = 1
	n.ProcessBlock(audio, nil)
	if audio[0][0] != 4 {
		t.Errorf("gain was not clamped to its maximum, output %v", audio[0][0])
	}
}

func TestToneReceivesTuning(t *testing.T) {
	n, _ := prep.DefaultRegistry().New(prepNode(prep.TypeTone))
	recv, ok := n.(klavier.StateReceiver)
	if !ok {
		t.Fatal("tone does not receive state")
	}
	recv.ReceiveState(klavier.State{prep.TuningKey: 12})
	if got := n.(interface{ Tuning() float32 }).Tuning(); got != 12 {
		t.Errorf("tuning = %v, want 12", got)
	}
	n.Prepare(48000, 16)
	audio := klavier.MakeAudioBuffer(2, 16)
	n.ProcessBlock(audio, nil)
	if audio[0][0] != 0 || audio[0][1] == 0 || audio[0][1] != audio[1][1] {
		t.Errorf("unexpected sine start %v %v", audio[0][:2], audio[1][:2])
	}
}

func TestRampRestartsOnTrigger(t *testing.T) {
	m, err := prep.DefaultRegistry().NewModulator(doc.NewNode(doc.TypeModulator, doc.KeyType, prep.TypeRamp, "time", 1))
	if err != nil {
		t.Fatal(err)
	}
	m.Prepare(4)
	out := make([]float32, 6)
	m.Render(out)
	want := []float32{-1, -0.5, 0, 0.5, 1, 1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("ramp = %v, want %v", out, want)
		}
	}
	m.(modulation.Triggerable).Trigger()
	m.Render(out[:1])
	if out[0] != -1 {
		t.Errorf("ramp did not restart, got %v", out[0])
	}
}

func TestModulatorsStayInRange(t *testing.T) {
	r := prep.DefaultRegistry()
	for _, typ := range r.ModulatorTypes() {
		m, err := r.NewModulator(doc.NewNode(doc.TypeModulator, doc.KeyType, typ, "rate", 50))
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		m.Prepare(1000)
		out := make([]float32, 1000)
		m.Render(out)
		for i, v := range out {
			if math.IsNaN(float64(v)) || v < -1 || v > 1 {
				t.Fatalf("%s: sample %d = %v out of [-1, 1]", typ, i, v)
			}
		}
	}
	tun, _ := r.NewModulator(doc.NewNode(doc.TypeModulator, doc.KeyType, prep.TypeTuning, "offset", -3))
	if s := tun.(modulation.StateSource).State(); s[prep.TuningKey] != -3 {
		t.Errorf("tuning state %v", s)
	}
}
