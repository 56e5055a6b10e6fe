//go:build !cgo

package main

import "github.com/vsariola/klavier"

type nullMIDIInput struct{}

func (nullMIDIInput) Fill(buf *klavier.MIDIBuffer, _ int) { buf.Clear() }
func (nullMIDIInput) Close()                              {}

// with no cgo, there is no rtmidi, so live MIDI input is not available
func newMIDIInput(int, string) midiInput { return nullMIDIInput{} }
