package engine_test

import (
	"runtime"
	"strings"
	"testing"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/engine"
)

// testNode adds value to every output channel and logs its calls.
type testNode struct {
	name   string
	layout klavier.Layout
	value  float32
	log    *[]string
}

func (n *testNode) Layout() klavier.Layout { return n.layout }
func (n *testNode) Prepare(float64, int)   {}
func (n *testNode) ProcessBlock(audio klavier.AudioBuffer, midi *klavier.MIDIBuffer) {
	if n.log != nil {
		*n.log = append(*n.log, n.name)
	}
	for ch := 0; ch < n.layout.NumOutputChannels() && ch < len(audio); ch++ {
		for i := range audio[ch] {
			audio[ch][i] += n.value
		}
	}
}

func stereo(name string, value float32) *testNode {
	return &testNode{
		name:  name,
		value: value,
		layout: klavier.Layout{
			Inputs:  []klavier.Bus{{Name: "Input", Channels: 2, Enabled: true}, {Name: klavier.ModulationBus, Channels: 1}},
			Outputs: []klavier.Bus{{Name: "Output", Channels: 2, Enabled: true}},
		},
	}
}

func conn(src engine.NodeID, srcCh int, dst engine.NodeID, dstCh int) engine.Connection {
	return engine.Connection{
		Source:      engine.NodeAndChannel{Node: src, Channel: srcCh},
		Destination: engine.NodeAndChannel{Node: dst, Channel: dstCh},
	}
}

func TestQueueRunsActionsInOrder(t *testing.T) {
	q := engine.NewQueue(3)
	if q.Cap() != 4 {
		t.Errorf("capacity 3 should round up to 4, got %d", q.Cap())
	}
	var got []int
	for i := 0; i < 7; i++ {
		q.Enqueue(func() { got = append(got, i) })
	}
	if q.Overflows() != 3 || q.Pending() != 3 {
		t.Fatalf("expected 3 spilled actions, got overflows %d pending %d", q.Overflows(), q.Pending())
	}
	if n := q.Drain(); n != 4 {
		t.Errorf("first drain ran %d actions, want 4", n)
	}
	if left := q.Flush(); left != 0 {
		t.Errorf("flush left %d actions waiting", left)
	}
	q.Drain()
	for i, v := range got {
		if v != i {
			t.Fatalf("actions ran out of order: %v", got)
		}
	}
	if len(got) != 7 {
		t.Errorf("ran %d actions, want 7", len(got))
	}
}

func TestQueueAcrossGoroutines(t *testing.T) {
	const n = 10000
	q := engine.NewQueue(16)
	record := make(chan int, n)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				q.Drain()
				return
			default:
				q.Drain()
				runtime.Gosched()
			}
		}
	}()
	for i := 0; i < n; i++ {
		q.Enqueue(func() { record <- i })
	}
	for q.Flush() > 0 {
		runtime.Gosched()
	}
	close(done)
	<-finished
	close(record)
	i := 0
	for v := range record {
		if v != i {
			t.Fatalf("action %d ran at position %d", v, i)
		}
		i++
	}
	if i != n {
		t.Fatalf("got %d actions, want %d", i, n)
	}
}

func TestAddConnectionValidation(t *testing.T) {
	e := engine.New(44100, 16, 0)
	a := e.AddNode(stereo("a", 0), 0)
	b := e.AddNode(stereo("b", 0), 0)
	c := e.AddNode(stereo("c", 0), 0)
	if !e.AddConnection(conn(a, 0, b, 0)) || !e.AddConnection(conn(b, 1, c, 1)) {
		t.Fatal("valid connections were rejected")
	}
	for _, tc := range []struct {
		name string
		c    engine.Connection
	}{
		{"self", conn(a, 0, a, 1)},
		{"unknown node", conn(a, 0, 99, 0)},
		{"source channel out of range", conn(a, 2, c, 0)},
		{"disabled modulation bus", conn(a, 0, c, 2)},
		{"duplicate", conn(a, 0, b, 0)},
		{"cycle", conn(c, 0, a, 0)},
		{"midi to audio", conn(a, engine.MIDIChannel, c, 0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if e.AddConnection(tc.c) {
				t.Errorf("connection %v was accepted", tc.c)
			}
		})
	}
	if !e.GrowBus(c, true, klavier.ModulationBus, 1) {
		t.Fatal("could not grow the modulation bus")
	}
	if !e.AddConnection(conn(a, 0, c, 2)) {
		t.Error("connection to a grown bus was rejected")
	}
	if !e.AddConnection(conn(a, engine.MIDIChannel, c, engine.MIDIChannel)) {
		t.Error("midi connection was rejected")
	}
	if !e.RemoveNode(b) {
		t.Fatal("RemoveNode failed")
	}
	for _, cn := range e.Connections() {
		if cn.Source.Node == b || cn.Destination.Node == b {
			t.Errorf("connection %v survived removing its node", cn)
		}
	}
	if e.AddConnection(conn(c, 0, a, 0)) {
		t.Error("connection closing a cycle over a MIDI edge was accepted")
	}
	if !e.IsConnected(conn(a, 0, c, 2)) {
		t.Error("unrelated connection was lost when removing a node")
	}
}

func TestProcessSumsConnections(t *testing.T) {
	e := engine.New(44100, 4, 0)
	a := e.AddNode(stereo("a", 0.25), 0)
	b := e.AddNode(stereo("b", 0.5), 0)
	out := e.AddNode(stereo("out", 0), 0)
	e.AddConnection(conn(a, 0, out, 0))
	e.AddConnection(conn(b, 0, out, 0))
	e.AddConnection(conn(b, 1, out, 1))
	e.SetOutput(out)
	buf := klavier.MakeAudioBuffer(2, 10)
	e.Process(buf, nil)
	for i := 0; i < 10; i++ {
		if buf[0][i] != 0.75 || buf[1][i] != 0.5 {
			t.Fatalf("frame %d: got (%v, %v), want (0.75, 0.5)", i, buf[0][i], buf[1][i])
		}
	}
	e.RemoveNode(a)
	e.Process(buf, nil)
	if buf[0][9] != 0.5 {
		t.Errorf("after removing a, got %v, want 0.5", buf[0][9])
	}
}

func TestQueuedActionsRunBeforeProcessing(t *testing.T) {
	var log []string
	e := engine.New(44100, 8, 0)
	n := stereo("process", 0)
	n.log = &log
	e.SetOutput(e.AddNode(n, 0))
	for _, name := range []string{"a1", "a2", "a3"} {
		e.Enqueue(func() { log = append(log, name) })
	}
	e.Process(klavier.MakeAudioBuffer(2, 8), nil)
	if got := strings.Join(log, " "); got != "a1 a2 a3 process" {
		t.Errorf("got %q", got)
	}
}

func TestRenderOrderFollowsConnections(t *testing.T) {
	var log []string
	e := engine.New(44100, 8, 0)
	nodes := map[string]engine.NodeID{}
	for _, name := range []string{"sink", "mid", "src"} {
		n := stereo(name, 0)
		n.log = &log
		nodes[name] = e.AddNode(n, 0)
	}
	e.AddConnection(conn(nodes["src"], 0, nodes["mid"], 0))
	e.AddConnection(conn(nodes["mid"], 0, nodes["sink"], 0))
	e.Process(klavier.MakeAudioBuffer(2, 8), nil)
	if got := strings.Join(log, " "); got != "src mid sink" {
		t.Errorf("render order %q", got)
	}
}

func TestOverflowRaisesAlert(t *testing.T) {
	e := engine.New(44100, 8, 1)
	e.AddNode(stereo("a", 0), 0)
	e.Enqueue(func() {})
	select {
	case a := <-e.Alerts():
		if a.Priority != klavier.Warning {
			t.Errorf("alert priority %v", a.Priority)
		}
	default:
		t.Fatal("no alert after the queue overflowed")
	}
	if e.Overflows() == 0 {
		t.Error("overflow counter not incremented")
	}
	e.Process(klavier.MakeAudioBuffer(2, 8), nil)
	if e.Flush() != 0 {
		t.Error("spilled actions not flushed after the audio side drained")
	}
}

func TestPlanSwapsShareOneQueueSlot(t *testing.T) {
	e := engine.New(44100, 4, 1)
	var ids []engine.NodeID
	for i := 0; i < 10; i++ {
		ids = append(ids, e.AddNode(stereo("n", 0.125), 0))
	}
	out := e.AddNode(stereo("out", 0), 0)
	for _, id := range ids {
		e.AddConnection(conn(id, 0, out, 0))
	}
	e.SetOutput(out)
	if e.Overflows() != 0 {
		t.Fatalf("%d actions spilled while editing the topology", e.Overflows())
	}
	buf := klavier.MakeAudioBuffer(2, 4)
	e.Process(buf, nil)
	if buf[0][3] != 1.25 {
		t.Errorf("got %v, want the newest plan summing all 10 nodes", buf[0][3])
	}
	e.RemoveNode(ids[0])
	e.Process(buf, nil)
	if buf[0][3] != 1.125 {
		t.Errorf("got %v after removing a node, want 1.125", buf[0][3])
	}
}

func TestHostMIDIReachesInputNode(t *testing.T) {
	e := engine.New(44100, 4, 0)
	in := &midiSink{}
	e.SetInput(e.AddNode(in, 0))
	midi := klavier.NewMIDIBuffer()
	midi.Add(1, []byte{0x90, 60, 100})
	midi.Add(6, []byte{0x90, 62, 100})
	e.Process(klavier.MakeAudioBuffer(2, 8), midi)
	if strings.Join(in.seen, " ") != "1 2" {
		t.Errorf("events seen at frames %v, want [1 2]", in.seen)
	}
}

type midiSink struct{ seen []string }

func (m *midiSink) Layout() klavier.Layout { return klavier.Layout{} }
func (m *midiSink) Prepare(float64, int)   {}
func (m *midiSink) ProcessBlock(_ klavier.AudioBuffer, midi *klavier.MIDIBuffer) {
	for _, ev := range midi.Events {
		m.seen = append(m.seen, string(rune('0'+ev.Frame)))
	}
}
