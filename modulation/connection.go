// Package modulation routes modulator outputs to parameters of other nodes.
//
// Connections live in fixed capacity banks that are allocated once and never
// shrink. The UI goroutine owns the banks; the audio goroutine only reads
// connection fields that are either immutable while the connection is
// attached to a processor or stored atomically.
package modulation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/engine"
)

type (
	// Connection is one continuous modulation connection slot. A slot with an
	// empty source or destination is free.
	Connection struct {
		index       int
		source      string
		destination string
		uuid        string
		raw         float32
		channel     int
		route       engine.Connection
		routed      bool

		scale    atomic.Uint32 // float32 bits
		bipolar  atomic.Bool
		stereo   atomic.Bool
		bypassed atomic.Bool
	}

	// StateConnection is one discrete state connection slot. Its change is
	// pushed into the destination when the source fires.
	StateConnection struct {
		index       int
		source      string
		destination string
		uuid        string
		push        func(klavier.State)
		route       engine.Connection
		routed      bool

		change   atomic.Pointer[klavier.State]
		bypassed atomic.Bool
	}
)

const amountParamPrefix = "modamt_"

// AmountParam returns the name of the parameter holding the amount of slot i.
// A connection to it modulates the amount of another connection.
func AmountParam(i int) string { return amountParamPrefix + strconv.Itoa(i) }

// ParseAmountParam returns the slot index named by an amount parameter.
func ParseAmountParam(name string) (int, bool) {
	s, ok := strings.CutPrefix(name, amountParamPrefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

var bipolarPrefixes = []string{"osc", "lfo", "random", "env", "audio", "noise"}

// DefaultBipolar reports whether connections from source default to bipolar
// output, based on the category prefix of the source name.
func DefaultBipolar(source string) bool {
	for _, p := range bipolarPrefixes {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return false
}

func (c *Connection) Index() int          { return c.index }
func (c *Connection) Source() string      { return c.source }
func (c *Connection) Destination() string { return c.destination }
func (c *Connection) UUID() string        { return c.uuid }
func (c *Connection) IsFree() bool        { return c.source == "" || c.destination == "" }
func (c *Connection) SetUUID(id string)   { c.uuid = id }

// Raw is the amount as the user set it, before any chain attenuation.
func (c *Connection) Raw() float32 { return c.raw }

// Scale is the effective amount read by the audio goroutine.
func (c *Connection) Scale() float32 { return math.Float32frombits(c.scale.Load()) }

func (c *Connection) setScale(v float32) { c.scale.Store(math.Float32bits(v)) }

func (c *Connection) Bipolar() bool      { return c.bipolar.Load() }
func (c *Connection) SetBipolar(v bool)  { c.bipolar.Store(v) }
func (c *Connection) Stereo() bool       { return c.stereo.Load() }
func (c *Connection) SetStereo(v bool)   { c.stereo.Store(v) }
func (c *Connection) Bypassed() bool     { return c.bypassed.Load() }
func (c *Connection) SetBypassed(v bool) { c.bypassed.Store(v) }
func (c *Connection) Channel() int       { return c.channel }
func (c *Connection) setChannel(ch int)  { c.channel = ch }

// IsAux reports whether the connection modulates the amount of another
// connection, and which.
func (c *Connection) IsAux() (int, bool) { return ParseAmountParam(c.destination) }

func (c *Connection) SetRoute(r engine.Connection) { c.route, c.routed = r, true }

// Route returns the graph connection carrying this connection, if wired.
func (c *Connection) Route() (engine.Connection, bool) { return c.route, c.routed }

func (c *Connection) String() string {
	return fmt.Sprintf("#%d %s -> %s", c.index, c.source, c.destination)
}

func (c *Connection) reset() {
	c.source, c.destination, c.uuid = "", "", ""
	c.raw = 1
	c.setScale(1)
	c.channel = -1
	c.route, c.routed = engine.Connection{}, false
	c.bipolar.Store(false)
	c.stereo.Store(false)
	c.bypassed.Store(false)
}

func (c *StateConnection) Index() int          { return c.index }
func (c *StateConnection) Source() string      { return c.source }
func (c *StateConnection) Destination() string { return c.destination }
func (c *StateConnection) UUID() string        { return c.uuid }
func (c *StateConnection) IsFree() bool        { return c.source == "" || c.destination == "" }
func (c *StateConnection) SetUUID(id string)   { c.uuid = id }
func (c *StateConnection) Bypassed() bool      { return c.bypassed.Load() }
func (c *StateConnection) SetBypassed(v bool)  { c.bypassed.Store(v) }

func (c *StateConnection) SetRoute(r engine.Connection)     { c.route, c.routed = r, true }
func (c *StateConnection) Route() (engine.Connection, bool) { return c.route, c.routed }

// Change returns the state pushed when the connection fires.
func (c *StateConnection) Change() klavier.State {
	if p := c.change.Load(); p != nil {
		return *p
	}
	return nil
}

// SetChange stores a copy of s as the state to push.
func (c *StateConnection) SetChange(s klavier.State) {
	s = s.Copy()
	c.change.Store(&s)
}

// Fire pushes the change into the destination. It runs on the goroutine
// that renders the destination.
func (c *StateConnection) Fire() {
	fire(c, c.push)
}

func fire(c *StateConnection, push func(klavier.State)) {
	if push == nil || c.bypassed.Load() {
		return
	}
	if p := c.change.Load(); p != nil {
		push(*p)
	}
}

func (c *StateConnection) reset() {
	c.source, c.destination, c.uuid = "", "", ""
	c.push = nil
	c.route, c.routed = engine.Connection{}, false
	c.change.Store(nil)
	c.bypassed.Store(false)
}
