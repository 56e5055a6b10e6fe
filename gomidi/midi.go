// Package gomidi reads live MIDI input through rtmidi and delivers it to the
// audio goroutine one block at a time.
package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vsariola/klavier"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	// Context collects messages from the open input device. HandleMessage
	// runs on the driver's goroutine, Fill on the audio goroutine; they only
	// share the events channel.
	Context struct {
		driver       *rtmididrv.Driver
		currentIn    drivers.In
		sampleRate   int
		events       chan timestampedMsg
		pending      []timestampedMsg
		startFrame   int
		startFrameOK bool
	}

	Device struct {
		context *Context
		in      drivers.In
	}

	timestampedMsg struct {
		frame int
		msg   midi.Message
	}
)

const eventsChanSize = 1024

// NewContext opens the rtmidi driver. If that fails, the context has no
// devices and Fill delivers nothing.
func NewContext(sampleRate int) *Context {
	c := &Context{sampleRate: sampleRate, events: make(chan timestampedMsg, eventsChanSize)}
	c.driver, _ = rtmididrv.New()
	return c
}

func (c *Context) InputDevices(yield func(Device) bool) {
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for _, in := range ins {
		if !yield(Device{context: c, in: in}) {
			return
		}
	}
}

// Open opens the device, closing the currently open one.
func (d Device) Open() error {
	c := d.context
	if c.currentIn == d.in {
		return nil
	}
	if c.driver == nil {
		return errors.New("no driver available")
	}
	if c.HasDeviceOpen() {
		c.currentIn.Close()
	}
	c.currentIn = d.in
	if err := d.in.Open(); err != nil {
		c.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	if _, err := midi.ListenTo(d.in, c.HandleMessage); err != nil {
		d.in.Close()
		c.currentIn = nil
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	return nil
}

func (d Device) String() string { return d.in.String() }

func (c *Context) HasDeviceOpen() bool { return c.currentIn != nil && c.currentIn.IsOpen() }

// TryToOpenBy opens the first device whose name starts with namePrefix, or
// the first device at all if takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) error {
	if namePrefix == "" && !takeFirst {
		return nil
	}
	for d := range c.InputDevices {
		if takeFirst || strings.HasPrefix(d.String(), namePrefix) {
			return d.Open()
		}
	}
	if takeFirst {
		return errors.New("could not find any MIDI input")
	}
	return fmt.Errorf("could not find a MIDI input starting with %q", namePrefix)
}

// HandleMessage queues msg; if the queue is full, the message is dropped.
func (c *Context) HandleMessage(msg midi.Message, timestampms int32) {
	select {
	case c.events <- timestampedMsg{frame: int(int64(timestampms) * int64(c.sampleRate) / 1000), msg: msg}:
	default:
	}
}

// Fill replaces the contents of buf with the events that fall in the next
// frames frames. The internal clock drifts towards the driver timestamps so
// that events keep their spacing without accumulating latency.
func (c *Context) Fill(buf *klavier.MIDIBuffer, frames int) {
	buf.Clear()
F:
	for {
		select {
		case e := <-c.events:
			c.pending = append(c.pending, e)
			if !c.startFrameOK {
				c.startFrame, c.startFrameOK = e.frame, true
			}
		default:
			break F
		}
	}
	n := 0
	for _, e := range c.pending {
		f := e.frame - c.startFrame
		if f >= frames {
			break
		}
		if f < 0 {
			c.startFrame += f / 5 // consumed late
			f = 0
		}
		buf.Add(f, e.msg)
		n++
	}
	c.pending = c.pending[:copy(c.pending, c.pending[n:])]
	c.startFrame += frames
	if len(c.pending) > 0 {
		if delta := c.startFrame - c.pending[0].frame; delta < 0 {
			c.startFrame -= delta / 5
		}
	}
}

func (c *Context) Close() {
	if c.driver == nil {
		return
	}
	if c.HasDeviceOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}
