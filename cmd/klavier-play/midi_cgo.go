//go:build cgo

package main

import (
	"log"

	"github.com/vsariola/klavier/gomidi"
)

func newMIDIInput(sampleRate int, device string) midiInput {
	c := gomidi.NewContext(sampleRate)
	if err := c.TryToOpenBy(device, device == ""); err != nil {
		log.Printf("no live MIDI input: %v", err)
	}
	return c
}
