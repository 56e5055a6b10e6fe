package modulation

import (
	"fmt"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/engine"
	"golang.org/x/exp/slices"
)

type (
	// Modulator renders a control signal in [-1, 1]. Prepare is called on
	// the UI goroutine before the modulator is rendered; Render only on the
	// audio goroutine.
	Modulator interface {
		Prepare(sampleRate float64)
		Render(out []float32)
	}

	// Triggerable modulators restart on every note-on reaching the
	// processor.
	Triggerable interface {
		Trigger()
	}

	// StateSource is implemented by modulators that feed state connections
	// instead of continuous ones.
	StateSource interface {
		State() klavier.State
	}

	// Host is the part of the engine a processor needs: growing its own
	// output bus and scheduling audio side updates.
	Host interface {
		Enqueue(a engine.Action)
		GrowBus(id engine.NodeID, isInput bool, bus string, channels int) bool
	}

	// Processor is the graph node of one modulation source. It renders its
	// modulators and mixes them into one output channel per distinct
	// destination parameter. The methods other than ProcessBlock are called
	// on the UI goroutine and reach the audio goroutine by swapping in a new
	// mix plan through the host queue.
	Processor struct {
		host       Host
		id         engine.NodeID
		aux        *AuxChain
		sampleRate float64
		blockSize  int

		modulators []*modEntry
		dests      map[string]int // destination -> output channel; never shrinks
		numDests   int
		attached   map[*Connection]attachment
		states     map[*StateConnection]string

		plan *mixPlan                // audio goroutine only, after Bind
		next atomic.Pointer[mixPlan] // newest plan not yet installed
	}

	modEntry struct {
		id  string
		mod Modulator
	}

	attachment struct {
		modulator string
		target    int // slot whose amount is modulated, or -1
	}

	mixPlan struct {
		mods    []mixModulator
		routes  []mixRoute
		states  []mixState
		offsets [][]float32
		tmp     []float32
		amount  []float32
		outBase int
	}

	mixModulator struct {
		mod     Modulator
		trig    Triggerable
		scratch []float32
	}

	mixRoute struct {
		conn    *Connection
		mod     int
		channel int // absolute channel in the node buffer, or -1
		target  int // index into offsets written by this route, or -1
		offset  int // index into offsets added to the scale, or -1
	}

	mixState struct {
		conn *StateConnection
		push func(klavier.State)
	}
)

const (
	InputBus  = "Input"
	OutputBus = "Output"
)

var processorLayout = klavier.Layout{
	Inputs: []klavier.Bus{
		{Name: InputBus, Channels: 2, Enabled: true},
		{Name: klavier.ModulationBus, Channels: 1},
	},
	Outputs: []klavier.Bus{
		{Name: OutputBus, Channels: 2, Enabled: true},
		{Name: klavier.ModulationBus, Channels: 1},
	},
}

func NewProcessor() *Processor {
	p := &Processor{
		dests:      map[string]int{},
		attached:   map[*Connection]attachment{},
		states:     map[*StateConnection]string{},
		sampleRate: engine.DefaultSampleRate,
		blockSize:  engine.DefaultBlockSize,
	}
	p.plan = p.buildPlan()
	return p
}

// Layout returns the buses of a processor before any modulation output has
// been assigned: stereo audio in and out, and one channel wide modulation
// buses, disabled.
func (p *Processor) Layout() klavier.Layout { return processorLayout.Copy() }

// Bind connects the processor to the engine it was added to under id.
// Until bound, plan changes take effect immediately.
func (p *Processor) Bind(host Host, id engine.NodeID) {
	p.host, p.id = host, id
}

func (p *Processor) ID() engine.NodeID { return p.id }

// SetAuxChain sets the chain used to order aux routes.
func (p *Processor) SetAuxChain(a *AuxChain) {
	p.aux = a
	p.Refresh()
}

func (p *Processor) Prepare(sampleRate float64, blockSize int) {
	p.sampleRate, p.blockSize = sampleRate, blockSize
	for _, m := range p.modulators {
		m.mod.Prepare(sampleRate)
	}
	p.Refresh()
}

// AddModulator adds a modulator under id. Fails if the id is taken.
func (p *Processor) AddModulator(id string, m Modulator) error {
	if p.modulator(id) >= 0 {
		return fmt.Errorf("modulator %q already exists", id)
	}
	m.Prepare(p.sampleRate)
	p.modulators = append(p.modulators, &modEntry{id: id, mod: m})
	p.Refresh()
	return nil
}

// RemoveModulator removes a modulator and detaches every connection reading
// it.
func (p *Processor) RemoveModulator(id string) bool {
	i := p.modulator(id)
	if i < 0 {
		return false
	}
	p.modulators = slices.Delete(p.modulators, i, i+1)
	for c, a := range p.attached {
		if a.modulator == id {
			delete(p.attached, c)
		}
	}
	for c, m := range p.states {
		if m == id {
			delete(p.states, c)
		}
	}
	p.Refresh()
	return true
}

// Modulator returns the modulator with the given id.
func (p *Processor) Modulator(id string) (Modulator, bool) {
	if i := p.modulator(id); i >= 0 {
		return p.modulators[i].mod, true
	}
	return nil, false
}

// Modulators returns the modulator ids in the order they were added.
func (p *Processor) Modulators() []string {
	ret := make([]string, len(p.modulators))
	for i, m := range p.modulators {
		ret[i] = m.id
	}
	return ret
}

func (p *Processor) modulator(id string) int {
	return slices.IndexFunc(p.modulators, func(m *modEntry) bool { return m.id == id })
}

// NewModulationOutputIndex returns the modulation output channel for the
// destination of c. Destinations seen before keep their channel; a new
// destination gets the next channel and the output bus grows to hold it.
func (p *Processor) NewModulationOutputIndex(c *Connection) int {
	if ch, ok := p.dests[c.Destination()]; ok {
		return ch
	}
	ch := p.numDests
	p.dests[c.Destination()] = ch
	p.numDests++
	if p.host != nil {
		p.host.GrowBus(p.id, false, klavier.ModulationBus, p.numDests)
	}
	return ch
}

// OutputChannel returns the absolute output channel of modulation channel
// index ch, i.e. the index used in graph connections.
func (p *Processor) OutputChannel(ch int) int {
	off, _ := processorLayout.Offset(false, processorLayout.FindBus(false, klavier.ModulationBus))
	return off + ch
}

// Attach adds c to the connections reading modulator id. A connection to a
// parameter gets its output channel assigned here. A connection to the
// amount of another slot is an aux connection: both slots must be attached
// to this processor, the target first.
func (p *Processor) Attach(c *Connection, modulator string) error {
	if c == nil || c.IsFree() {
		return fmt.Errorf("cannot attach a free connection")
	}
	if p.modulator(modulator) < 0 {
		return fmt.Errorf("no modulator %q", modulator)
	}
	if _, ok := p.modulators[p.modulator(modulator)].mod.(StateSource); ok {
		return fmt.Errorf("modulator %q only feeds state connections", modulator)
	}
	target := -1
	if t, ok := c.IsAux(); ok {
		if !p.hasSlot(t) {
			return fmt.Errorf("aux target slot %d is not attached to this processor", t)
		}
		target = t
	} else {
		c.setChannel(p.NewModulationOutputIndex(c))
	}
	p.attached[c] = attachment{modulator: modulator, target: target}
	p.Refresh()
	return nil
}

// Detach removes c. Its output channel stays reserved for its destination.
func (p *Processor) Detach(c *Connection) bool {
	if _, ok := p.attached[c]; !ok {
		return false
	}
	delete(p.attached, c)
	p.Refresh()
	return true
}

func (p *Processor) IsAttached(c *Connection) bool {
	_, ok := p.attached[c]
	return ok
}

// ChannelInUse reports whether any attached connection writes modulation
// channel ch.
func (p *Processor) ChannelInUse(ch int) bool {
	for c, a := range p.attached {
		if a.target < 0 && c.Channel() == ch {
			return true
		}
	}
	return false
}

func (p *Processor) hasSlot(i int) bool {
	for c := range p.attached {
		if c.Index() == i {
			return true
		}
	}
	return false
}

// AttachState adds a state connection fed by modulator id, which must be a
// StateSource. The change of c is set from the modulator's current state.
func (p *Processor) AttachState(c *StateConnection, modulator string) error {
	i := p.modulator(modulator)
	if i < 0 {
		return fmt.Errorf("no modulator %q", modulator)
	}
	src, ok := p.modulators[i].mod.(StateSource)
	if !ok {
		return fmt.Errorf("modulator %q does not produce state", modulator)
	}
	c.SetChange(src.State())
	p.states[c] = modulator
	p.Refresh()
	return nil
}

func (p *Processor) DetachState(c *StateConnection) bool {
	if _, ok := p.states[c]; !ok {
		return false
	}
	delete(p.states, c)
	p.Refresh()
	return true
}

// Refresh rebuilds the mix plan, e.g. after the aux chain changed. Plans
// built while an earlier one is still queued replace it in place.
func (p *Processor) Refresh() {
	plan := p.buildPlan()
	if p.host == nil {
		p.plan = plan
		return
	}
	if p.next.Swap(plan) == nil {
		p.host.Enqueue(p.install)
	}
}

func (p *Processor) install() {
	if plan := p.next.Swap(nil); plan != nil {
		p.plan = plan
	}
}

// UpdateState sets the change of every state connection fed by modulator
// id from the modulator's current state. Returns the number of connections
// updated.
func (p *Processor) UpdateState(modulator string) int {
	i := p.modulator(modulator)
	if i < 0 {
		return 0
	}
	src, ok := p.modulators[i].mod.(StateSource)
	if !ok {
		return 0
	}
	s, n := src.State(), 0
	for c, m := range p.states {
		if m == modulator {
			c.SetChange(s)
			n++
		}
	}
	return n
}

func (p *Processor) buildPlan() *mixPlan {
	bs := p.blockSize
	plan := &mixPlan{
		tmp:     make([]float32, bs),
		amount:  make([]float32, bs),
		outBase: p.OutputChannel(0),
	}
	index := map[string]int{}
	for i, m := range p.modulators {
		trig, _ := m.mod.(Triggerable)
		plan.mods = append(plan.mods, mixModulator{mod: m.mod, trig: trig, scratch: make([]float32, bs)})
		index[m.id] = i
	}
	targets := map[int]int{}
	for _, a := range p.attached {
		if _, ok := targets[a.target]; a.target >= 0 && !ok {
			targets[a.target] = len(plan.offsets)
			plan.offsets = append(plan.offsets, make([]float32, bs))
		}
	}
	for c, a := range p.attached {
		r := mixRoute{conn: c, mod: index[a.modulator], channel: -1, target: -1, offset: -1}
		if a.target >= 0 {
			r.target = targets[a.target]
		} else {
			r.channel = plan.outBase + c.Channel()
		}
		if o, ok := targets[c.Index()]; ok {
			r.offset = o
		}
		plan.routes = append(plan.routes, r)
	}
	// aux sources must run before the routes whose amount they modulate
	slices.SortFunc(plan.routes, func(x, y mixRoute) int {
		if d := p.depth(x.conn.Index()) - p.depth(y.conn.Index()); d != 0 {
			return d
		}
		return x.conn.Index() - y.conn.Index()
	})
	for c := range p.states {
		plan.states = append(plan.states, mixState{conn: c, push: c.push})
	}
	slices.SortFunc(plan.states, func(x, y mixState) int { return x.conn.Index() - y.conn.Index() })
	return plan
}

func (p *Processor) depth(i int) int {
	if p.aux == nil {
		return 0
	}
	return p.aux.Depth(i)
}

// ProcessBlock renders the modulators, restarting triggerable ones and
// firing state connections at every note-on, and mixes them into the
// modulation outputs.
func (p *Processor) ProcessBlock(audio klavier.AudioBuffer, midi *klavier.MIDIBuffer) {
	plan := p.plan
	frames := min(audio.Frames(), len(plan.tmp))
	pos := 0
	midi.NoteOns(func(frame int, _, _, _ uint8) {
		frame = min(max(frame, pos), frames)
		plan.render(pos, frame)
		pos = frame
		plan.trigger()
	})
	plan.render(pos, frames)
	audio.Clear()
	for _, o := range plan.offsets {
		clear(o[:frames])
	}
	tmp, amount := plan.tmp[:frames], plan.amount[:frames]
	for _, r := range plan.routes {
		if r.conn.Bypassed() {
			continue
		}
		copy(tmp, plan.mods[r.mod].scratch[:frames])
		if !r.conn.Bipolar() {
			vek32.AddNumber_Inplace(tmp, 1)
			vek32.MulNumber_Inplace(tmp, 0.5)
		}
		scale := r.conn.Scale()
		if r.offset >= 0 {
			vek32.AddNumber_Into(amount, plan.offsets[r.offset][:frames], scale)
			vek32.Mul_Inplace(tmp, amount)
		} else {
			vek32.MulNumber_Inplace(tmp, scale)
		}
		switch {
		case r.target >= 0:
			vek32.Add_Inplace(plan.offsets[r.target][:frames], tmp)
		case r.channel < len(audio):
			vek32.Add_Inplace(audio[r.channel][:frames], tmp)
		}
	}
}

func (m *mixPlan) render(from, to int) {
	if to <= from {
		return
	}
	for _, mod := range m.mods {
		mod.mod.Render(mod.scratch[from:to])
	}
}

func (m *mixPlan) trigger() {
	for _, mod := range m.mods {
		if mod.trig != nil {
			mod.trig.Trigger()
		}
	}
	for _, s := range m.states {
		fire(s.conn, s.push)
	}
}
