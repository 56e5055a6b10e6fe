package klavier_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/vsariola/klavier"
	"gitlab.com/gomidi/midi/v2"
)

func TestLayoutOffsets(t *testing.T) {
	l := klavier.Layout{
		Inputs: []klavier.Bus{
			{Name: "Input", Channels: 2, Enabled: true},
			{Name: klavier.ModulationBus, Channels: 1},
		},
		Outputs: []klavier.Bus{{Name: "Output", Channels: 2, Enabled: true}},
	}
	if got := l.NumInputChannels(); got != 2 {
		t.Fatalf("disabled bus counted: got %d input channels, want 2", got)
	}
	bus := l.FindBus(true, klavier.ModulationBus)
	if bus != 1 {
		t.Fatalf("FindBus = %d, want 1", bus)
	}
	resized, ok := l.Resize(true, bus, 3)
	if !ok {
		t.Fatal("Resize failed")
	}
	if got := resized.NumInputChannels(); got != 5 {
		t.Errorf("after resize got %d input channels, want 5", got)
	}
	if off, _ := resized.Offset(true, bus); off != 2 {
		t.Errorf("modulation bus offset = %d, want 2", off)
	}
	if l.Inputs[1].Enabled {
		t.Error("Resize modified the original layout")
	}
	if got := resized.NumChannels(); got != 5 {
		t.Errorf("NumChannels = %d, want 5", got)
	}
}

func TestAudioBufferAddChannel(t *testing.T) {
	a := klavier.MakeAudioBuffer(2, 4)
	b := klavier.MakeAudioBuffer(1, 4)
	for i := range b[0] {
		b[0][i] = float32(i)
	}
	a.AddChannel(1, b, 0)
	a.AddChannel(1, b, 0)
	a.AddChannel(5, b, 0) // ignored
	for i, v := range a[1] {
		if v != float32(2*i) {
			t.Errorf("a[1][%d] = %v, want %v", i, v, 2*i)
		}
	}
	for _, v := range a[0] {
		if v != 0 {
			t.Fatal("channel 0 should be untouched")
		}
	}
	view := make(klavier.AudioBuffer, 2)
	view = a.View(view, 2)
	if view.Frames() != 2 || view[1][1] != 2 {
		t.Errorf("unexpected view %v", view)
	}
}

func TestMIDIBufferSortedAndBounded(t *testing.T) {
	b := klavier.NewMIDIBuffer()
	b.Add(10, midi.NoteOn(0, 60, 100))
	b.Add(2, midi.NoteOn(0, 62, 0))
	b.Add(5, midi.NoteOn(1, 64, 90))
	want := []int{2, 5, 10}
	for i, e := range b.Events {
		if e.Frame != want[i] {
			t.Fatalf("events not sorted: %v", b.Events)
		}
	}
	var keys []uint8
	b.NoteOns(func(_ int, _, key, _ uint8) { keys = append(keys, key) })
	if len(keys) != 2 || keys[0] != 64 || keys[1] != 60 {
		t.Errorf("NoteOns yielded %v, want [64 60]", keys)
	}
	for i := 0; i < klavier.MaxMIDIEvents; i++ {
		b.Add(0, midi.NoteOff(0, 1))
	}
	if len(b.Events) != klavier.MaxMIDIEvents {
		t.Errorf("buffer grew beyond its capacity: %d", len(b.Events))
	}
}

func TestWriteWav(t *testing.T) {
	buf := klavier.MakeAudioBuffer(2, 10)
	buf[0][0], buf[1][0] = 1, -2
	for _, tc := range []struct {
		name   string
		format klavier.SampleFormat
		size   int
	}{
		{"pcm16", klavier.PCM16, 44 + 2*2*10},
		{"float32", klavier.Float32, 58 + 4*2*10},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var w bytes.Buffer
			if err := klavier.WriteWav(&w, buf, 48000, tc.format); err != nil {
				t.Fatalf("WriteWav failed: %v", err)
			}
			if !bytes.HasPrefix(w.Bytes(), []byte("RIFF")) {
				t.Error("missing RIFF header")
			}
			if w.Len() != tc.size {
				t.Errorf("wav has %d bytes, want %d", w.Len(), tc.size)
			}
		})
	}
	var raw bytes.Buffer
	if err := klavier.WriteRaw(&raw, buf, klavier.PCM16); err != nil {
		t.Fatal(err)
	}
	if got := raw.Bytes()[:4]; !bytes.Equal(got, []byte{0xff, 0x7f, 0x00, 0x80}) {
		t.Errorf("first frame encoded as % x, want clipped to full scale", got)
	}
	if err := klavier.WriteWav(io.Discard, buf, 0, klavier.Float32); !errors.Is(err, klavier.ErrSampleRate) {
		t.Errorf("got %v for a zero sample rate", err)
	}
}
