package klavier

import (
	"gitlab.com/gomidi/midi/v2"
)

// MaxMIDIEvents is the number of events a MIDIBuffer holds without
// allocating. Events beyond that in one block are dropped.
const MaxMIDIEvents = 256

type (
	// MIDIEvent is a MIDI message at a frame offset relative to the start of
	// the current block.
	MIDIEvent struct {
		Frame   int
		Message midi.Message
	}

	// MIDIBuffer holds the MIDI events of one block, sorted by frame.
	MIDIBuffer struct {
		Events []MIDIEvent
	}
)

// NewMIDIBuffer returns an empty buffer with room for MaxMIDIEvents events.
func NewMIDIBuffer() *MIDIBuffer {
	return &MIDIBuffer{Events: make([]MIDIEvent, 0, MaxMIDIEvents)}
}

// Clear removes all events, keeping the capacity.
func (b *MIDIBuffer) Clear() {
	if b == nil {
		return
	}
	b.Events = b.Events[:0]
}

// Add inserts an event, keeping the events sorted by frame. Returns false if
// the buffer is full and the event was dropped.
func (b *MIDIBuffer) Add(frame int, msg midi.Message) bool {
	if len(b.Events) == cap(b.Events) {
		return false
	}
	i := len(b.Events)
	b.Events = b.Events[:i+1]
	for i > 0 && b.Events[i-1].Frame > frame {
		b.Events[i] = b.Events[i-1]
		i--
	}
	b.Events[i] = MIDIEvent{Frame: frame, Message: msg}
	return true
}

// AddFrom adds the events of o whose frame is in [start, end), shifting them
// by -start.
func (b *MIDIBuffer) AddFrom(o *MIDIBuffer, start, end int) {
	if o == nil {
		return
	}
	for _, e := range o.Events {
		if e.Frame >= start && e.Frame < end {
			b.Add(e.Frame-start, e.Message)
		}
	}
}

// NoteOns calls fn with the frame, channel, key and velocity of every note-on
// event with a non-zero velocity, in frame order.
func (b *MIDIBuffer) NoteOns(fn func(frame int, channel, key, velocity uint8)) {
	if b == nil {
		return
	}
	for _, e := range b.Events {
		var ch, key, vel uint8
		if e.Message.GetNoteOn(&ch, &key, &vel) && vel > 0 {
			fn(e.Frame, ch, key, vel)
		}
	}
}
