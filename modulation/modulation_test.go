package modulation_test

import (
	"fmt"
	"testing"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/engine"
	"github.com/vsariola/klavier/modulation"
)

type constModulator struct {
	value    float32
	triggers int
	renders  []int
}

func (m *constModulator) Prepare(float64) {}
func (m *constModulator) Trigger()        { m.triggers++ }
func (m *constModulator) Render(out []float32) {
	m.renders = append(m.renders, len(out))
	for i := range out {
		out[i] = m.value
	}
}

type stateSource struct{ state klavier.State }

func (s *stateSource) Prepare(float64)      {}
func (s *stateSource) Render([]float32)     {}
func (s *stateSource) State() klavier.State { return s.state }

// directHost runs actions immediately and records bus growth.
type directHost struct{ grown []int }

func (h *directHost) Enqueue(a engine.Action) { a() }
func (h *directHost) GrowBus(_ engine.NodeID, _ bool, _ string, channels int) bool {
	h.grown = append(h.grown, channels)
	return true
}

func TestBankExhaustionAndReuse(t *testing.T) {
	const n = 4
	b := modulation.NewBank(n)
	var conns []*modulation.Connection
	for i := 0; i < n; i++ {
		c := b.Create("lfo1_out", fmt.Sprintf("osc%d_freq", i))
		if c == nil {
			t.Fatalf("create %d failed", i)
		}
		conns = append(conns, c)
	}
	if c := b.Create("lfo1_out", "one_too_many"); c != nil {
		t.Fatalf("created a connection in a full bank: %v", c)
	}
	b.Release(conns[2])
	c := b.Create("lfo2_out", "osc1_freq")
	if c == nil || c.Index() != 2 {
		t.Fatalf("expected the freed slot 2 to be reused, got %v", c)
	}
	if b.Len() != n {
		t.Errorf("Len = %d, want %d", b.Len(), n)
	}
	for i := 0; i < 100; i++ {
		b.Release(c)
		if c = b.Create("lfo2_out", "osc1_freq"); c == nil {
			t.Fatal("create after release failed")
		}
	}
	if b.Len() > b.Cap() {
		t.Errorf("Len %d exceeds capacity %d", b.Len(), b.Cap())
	}
}

func TestBankConnectDisconnectScenario(t *testing.T) {
	b := modulation.NewBank(modulation.DefaultSlots)
	var released []int
	b.OnRelease = func(index int, uuid string) {
		if uuid != "doc-node" {
			t.Errorf("release hook got uuid %q", uuid)
		}
		released = append(released, index)
	}
	c := b.Create("lfo1_out", "osc1_freq")
	if c == nil {
		t.Fatal("connect failed")
	}
	c.SetUUID("doc-node")
	if c.Index() < 0 || c.Index() >= modulation.DefaultSlots {
		t.Errorf("index %d out of range", c.Index())
	}
	if !c.Bipolar() {
		t.Error("lfo source should default to bipolar")
	}
	if b.Find("lfo1_out", "osc1_freq") != c || b.FindUUID("doc-node") != c {
		t.Error("lookup did not find the connection")
	}
	b.Release(c)
	if c.Source() != "" || c.Destination() != "" {
		t.Errorf("released slot still named %q -> %q", c.Source(), c.Destination())
	}
	b.Release(c)
	if len(released) != 1 || released[0] != c.Index() {
		t.Errorf("release hook calls %v", released)
	}
	if b.Create("", "osc1_freq") != nil || b.Create("lfo1_out", "") != nil {
		t.Error("empty names must not create a connection")
	}
}

func TestCreateSkipsOwnAmountParam(t *testing.T) {
	b := modulation.NewBank(3)
	c := b.Create("lfo1_out", modulation.AmountParam(0))
	if c == nil || c.Index() != 1 {
		t.Fatalf("expected slot 1, got %v", c)
	}
	if next := b.Create("lfo1_out", "osc1_freq"); next == nil || next.Index() != 0 {
		t.Errorf("skipped slot 0 was not left free, got %v", next)
	}
}

func TestDefaultBipolar(t *testing.T) {
	for _, tc := range []struct {
		source string
		want   bool
	}{
		{"lfo1_out", true},
		{"osc2_out", true},
		{"random1_out", true},
		{"env1_out", true},
		{"audio_in", true},
		{"noise_out", true},
		{"ramp1_out", false},
		{"tuning1_out", false},
	} {
		if got := modulation.DefaultBipolar(tc.source); got != tc.want {
			t.Errorf("DefaultBipolar(%q) = %v, want %v", tc.source, got, tc.want)
		}
	}
}

func TestAuxChainMultipliers(t *testing.T) {
	b := modulation.NewBank(8)
	a, bb, c := b.Create("lfo1_out", "x"), b.Create("lfo2_out", "y"), b.Create("lfo3_out", "z")
	chain := modulation.NewAuxChain(b)
	if !chain.Add(a.Index(), bb.Index()) || !chain.Add(bb.Index(), c.Index()) {
		t.Fatal("could not build chain A -> B -> C")
	}
	chain.SetRaw(c.Index(), 1)
	if m := chain.Multiplier(c.Index()); m != 0.25 {
		t.Errorf("multiplier of C = %v, want 0.25", m)
	}
	if m := chain.Multiplier(bb.Index()); m != 0.5 {
		t.Errorf("multiplier of B = %v, want 0.5", m)
	}
	if c.Scale() != 0.25 || c.Raw() != 1 {
		t.Errorf("C scale %v raw %v, want 0.25 and 1", c.Scale(), c.Raw())
	}
	if chain.Add(c.Index(), a.Index()) {
		t.Error("a link closing a cycle was accepted")
	}
	chain.RemoveSource(a.Index())
	if m := chain.Multiplier(bb.Index()); m != 1 {
		t.Errorf("multiplier of B after removing A -> B = %v, want 1", m)
	}
	if c.Scale() != 0.5 {
		t.Errorf("C scale after removing A -> B = %v, want 0.5", c.Scale())
	}
	if bb.Scale() != bb.Raw() {
		t.Errorf("B scale %v does not match its raw value %v", bb.Scale(), bb.Raw())
	}
}

func TestAuxChainRejectsSelfLink(t *testing.T) {
	b := modulation.NewBank(4)
	c := b.Create("lfo1_out", "x")
	chain := modulation.NewAuxChain(b)
	if chain.Add(c.Index(), c.Index()) {
		t.Error("self link accepted")
	}
	if _, ok := chain.Source(c.Index()); ok {
		t.Error("self link changed the inverse map")
	}
	if _, ok := chain.Destination(c.Index()); ok {
		t.Error("self link changed the forward map")
	}
	if chain.Add(c.Index(), 99) {
		t.Error("link to a slot out of range accepted")
	}
}

func TestOutputChannelsAreStableAndShared(t *testing.T) {
	b := modulation.NewBank(8)
	host := &directHost{}
	p := modulation.NewProcessor()
	p.Bind(host, 7)
	p.AddModulator("lfo1", &constModulator{})
	p.AddModulator("lfo2", &constModulator{})
	c1 := b.Create("lfo1_out", "osc1_freq")
	c2 := b.Create("lfo2_out", "osc1_freq")
	c3 := b.Create("lfo1_out", "osc1_level")
	for _, at := range []struct {
		c   *modulation.Connection
		mod string
	}{{c1, "lfo1"}, {c2, "lfo2"}, {c3, "lfo1"}} {
		if err := p.Attach(at.c, at.mod); err != nil {
			t.Fatal(err)
		}
	}
	if c1.Channel() != 0 || c2.Channel() != 0 {
		t.Errorf("same destination got channels %d and %d, want 0 and 0", c1.Channel(), c2.Channel())
	}
	if c3.Channel() != 1 {
		t.Errorf("second destination got channel %d, want 1", c3.Channel())
	}
	p.Detach(c1)
	if !p.ChannelInUse(0) {
		t.Error("channel 0 still carries c2")
	}
	p.Detach(c2)
	if p.ChannelInUse(0) {
		t.Error("channel 0 reported in use after detaching both")
	}
	c4 := b.Create("lfo2_out", "gain1_gain")
	p.Attach(c4, "lfo2")
	if c4.Channel() != 2 || c3.Channel() != 1 {
		t.Errorf("channels after churn: c3=%d c4=%d, want 1 and 2", c3.Channel(), c4.Channel())
	}
	if len(host.grown) != 3 || host.grown[2] != 3 {
		t.Errorf("bus growth %v, want [1 2 3]", host.grown)
	}
	if err := p.Attach(b.Create("lfo9_out", "x"), "lfo9"); err == nil {
		t.Error("attached to a missing modulator")
	}
}

func TestProcessorMix(t *testing.T) {
	const frames = 8
	b := modulation.NewBank(8)
	chain := modulation.NewAuxChain(b)
	p := modulation.NewProcessor()
	p.Bind(&directHost{}, 1)
	p.SetAuxChain(chain)
	p.Prepare(44100, frames)
	p.AddModulator("lfo1", &constModulator{value: 0.5})
	p.AddModulator("lfo2", &constModulator{value: 1})
	p.AddModulator("ramp1", &constModulator{value: 0.5})

	bipolar := b.Create("lfo1_out", "osc1_freq")
	chain.SetRaw(bipolar.Index(), 0.5)
	unipolar := b.Create("ramp1_out", "osc1_level")
	p.Attach(bipolar, "lfo1")
	p.Attach(unipolar, "ramp1")
	bypassed := b.Create("lfo2_out", "osc1_level")
	bypassed.SetBypassed(true)
	p.Attach(bypassed, "lfo2")

	audio := klavier.MakeAudioBuffer(4, frames)
	audio[0][0] = 1
	p.ProcessBlock(audio, nil)
	for i := 0; i < frames; i++ {
		if audio[0][i] != 0 || audio[1][i] != 0 {
			t.Fatalf("audio outputs not silent at frame %d", i)
		}
		if audio[2][i] != 0.25 {
			t.Fatalf("bipolar channel = %v, want 0.25", audio[2][i])
		}
		if audio[3][i] != 0.75 {
			t.Fatalf("unipolar channel = %v, want 0.75", audio[3][i])
		}
	}

	aux := b.Create("lfo2_out", modulation.AmountParam(bipolar.Index()))
	if err := p.Attach(aux, "lfo2"); err != nil {
		t.Fatal(err)
	}
	chain.Add(aux.Index(), bipolar.Index())
	p.Refresh()
	if bipolar.Scale() != 0.25 {
		t.Errorf("chained scale %v, want 0.25", bipolar.Scale())
	}
	p.ProcessBlock(audio, nil)
	// 0.5 * (0.25 + 1*1)
	if audio[2][frames-1] != 0.625 {
		t.Errorf("aux modulated channel = %v, want 0.625", audio[2][frames-1])
	}
}

func TestNoteOnTriggersAndFiresState(t *testing.T) {
	const frames = 8
	states := modulation.NewStateBank(4)
	p := modulation.NewProcessor()
	p.Bind(&directHost{}, 1)
	p.Prepare(44100, frames)
	env := &constModulator{}
	p.AddModulator("env1", env)
	p.AddModulator("tuning1", &stateSource{state: klavier.State{"offset": 2}})
	sc := states.Create("tuning1_out", "tone1_tuning")
	var pushed []klavier.State
	states.SetPush(sc, func(s klavier.State) { pushed = append(pushed, s) })
	if err := p.AttachState(sc, "tuning1"); err != nil {
		t.Fatal(err)
	}
	if err := p.AttachState(states.Create("env1_out", "x"), "env1"); err == nil {
		t.Error("a continuous modulator was accepted as a state source")
	}
	midi := klavier.NewMIDIBuffer()
	midi.Add(3, []byte{0x90, 60, 100})
	p.ProcessBlock(klavier.MakeAudioBuffer(3, frames), midi)
	if env.triggers != 1 {
		t.Errorf("triggered %d times, want 1", env.triggers)
	}
	if len(env.renders) != 2 || env.renders[0] != 3 || env.renders[1] != 5 {
		t.Errorf("render segments %v, want [3 5]", env.renders)
	}
	if len(pushed) != 1 || pushed[0]["offset"] != 2 {
		t.Errorf("pushed %v", pushed)
	}
	if n := states.Trigger("tuning1_out"); n != 1 || len(pushed) != 2 {
		t.Errorf("Trigger fired %d connections, %d pushes", n, len(pushed))
	}
}
