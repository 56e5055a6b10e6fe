package gomidi

import (
	"testing"

	"github.com/vsariola/klavier"
	"gitlab.com/gomidi/midi/v2"
)

func TestFillSplitsEventsByBlock(t *testing.T) {
	c := &Context{sampleRate: 1000, events: make(chan timestampedMsg, 8)}
	c.HandleMessage(midi.NoteOn(0, 60, 100), 0)
	c.HandleMessage(midi.NoteOn(0, 62, 100), 3)
	c.HandleMessage(midi.NoteOn(0, 64, 100), 12)
	buf := klavier.NewMIDIBuffer()
	c.Fill(buf, 10)
	var keys []uint8
	buf.NoteOns(func(frame int, _, key, _ uint8) { keys = append(keys, key) })
	if len(keys) != 2 || keys[0] != 60 || keys[1] != 62 || buf.Events[1].Frame != 3 {
		t.Fatalf("first block: keys %v events %v", keys, buf.Events)
	}
	c.Fill(buf, 10)
	if len(buf.Events) != 1 || buf.Events[0].Frame != 2 {
		t.Errorf("second block: events %v", buf.Events)
	}
	c.Fill(buf, 10)
	if len(buf.Events) != 0 {
		t.Errorf("events delivered twice: %v", buf.Events)
	}
}
