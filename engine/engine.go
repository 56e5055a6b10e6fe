package engine

import (
	"cmp"
	"fmt"
	"sync/atomic"

	"github.com/vsariola/klavier"
	"golang.org/x/exp/slices"
)

type (
	// NodeID identifies a node in the graph. Zero is never a valid id.
	NodeID uint32

	NodeAndChannel struct {
		Node    NodeID
		Channel int
	}

	// Connection carries one channel from an output of the source node to an
	// input of the destination node. A connection whose channels are both
	// MIDIChannel carries the MIDI events of the source instead.
	Connection struct {
		Source      NodeAndChannel
		Destination NodeAndChannel
	}

	// Engine is the audio graph façade. All methods except Process are called
	// on the UI goroutine, which owns the topology. Every change to the
	// topology builds a new render plan that is handed to the audio goroutine
	// through the queue; Process drains the queue before rendering, so
	// actions enqueued before a Process call always run before its first
	// ProcessBlock.
	Engine struct {
		queue  *Queue
		alerts chan klavier.Alert

		nodes      map[NodeID]*entry
		conns      map[Connection]struct{}
		nextID     NodeID
		input      NodeID
		output     NodeID
		sampleRate float64
		blockSize  int

		plan *plan                // audio goroutine only
		next atomic.Pointer[plan] // newest plan not yet installed
	}

	entry struct {
		node   klavier.Node
		layout klavier.Layout
		buf    klavier.AudioBuffer
		midi   *klavier.MIDIBuffer
	}
)

// MIDIChannel is the channel index of the MIDI port of a node.
const MIDIChannel = 0x1000

const (
	DefaultSampleRate = 44100
	DefaultBlockSize  = 512
	alertChanSize     = 64
)

func (c Connection) IsMIDI() bool {
	return c.Source.Channel == MIDIChannel && c.Destination.Channel == MIDIChannel
}

func (c Connection) String() string {
	return fmt.Sprintf("%d:%d -> %d:%d", c.Source.Node, c.Source.Channel, c.Destination.Node, c.Destination.Channel)
}

// New returns an empty engine. Non-positive arguments are replaced with
// defaults.
func New(sampleRate float64, blockSize, queueCapacity int) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Engine{
		queue:      NewQueue(queueCapacity),
		alerts:     make(chan klavier.Alert, alertChanSize),
		nodes:      map[NodeID]*entry{},
		conns:      map[Connection]struct{}{},
		nextID:     1,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		plan:       emptyPlan(blockSize),
	}
}

func (e *Engine) SampleRate() float64 { return e.sampleRate }
func (e *Engine) BlockSize() int      { return e.blockSize }

// Alerts returns the channel on which the engine reports problems. The
// engine never blocks on it: when nobody reads, alerts are dropped.
func (e *Engine) Alerts() <-chan klavier.Alert { return e.alerts }

// Overflows returns how many actions have spilled over the queue capacity.
func (e *Engine) Overflows() int64 { return e.queue.Overflows() }

// Enqueue schedules an action to run on the audio goroutine, after every
// previously enqueued action and plan change.
func (e *Engine) Enqueue(a Action) {
	if e.queue.Enqueue(a) {
		TrySend(e.alerts, klavier.Alert{
			Name:     "QueueOverflow",
			Priority: klavier.Warning,
			Message:  fmt.Sprintf("audio update queue full (%d slots), %d updates waiting", e.queue.Cap(), e.queue.Pending()),
			Duration: klavier.DefaultAlertDuration,
		})
	}
}

// Flush retries moving spilled actions into the queue and returns how many
// are still waiting.
func (e *Engine) Flush() int { return e.queue.Flush() }

// AddNode prepares n and adds it to the graph. If id is zero or already in
// use, a fresh id is chosen. Returns the id of the node.
func (e *Engine) AddNode(n klavier.Node, id NodeID) NodeID {
	if _, taken := e.nodes[id]; id == 0 || taken {
		id = e.nextID
		for e.nodes[id] != nil || id == 0 {
			id++
		}
	}
	if id >= e.nextID {
		e.nextID = id + 1
	}
	n.Prepare(e.sampleRate, e.blockSize)
	e.nodes[id] = &entry{node: n, layout: n.Layout().Copy()}
	e.rebuild()
	return id
}

// RemoveNode removes the node and every connection touching it. The audio
// goroutine keeps rendering the node until the queued plan change runs.
func (e *Engine) RemoveNode(id NodeID) bool {
	if _, ok := e.nodes[id]; !ok {
		return false
	}
	for c := range e.conns {
		if c.Source.Node == id || c.Destination.Node == id {
			delete(e.conns, c)
		}
	}
	delete(e.nodes, id)
	if e.input == id {
		e.input = 0
	}
	if e.output == id {
		e.output = 0
	}
	e.rebuild()
	return true
}

// Node returns the node with the given id.
func (e *Engine) Node(id NodeID) (klavier.Node, bool) {
	if ent, ok := e.nodes[id]; ok {
		return ent.node, true
	}
	return nil, false
}

// NodeIDs returns the ids of all nodes in ascending order.
func (e *Engine) NodeIDs() []NodeID {
	ret := make([]NodeID, 0, len(e.nodes))
	for id := range e.nodes {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// Layout returns the current bus layout of a node, which may differ from
// what the node itself declared if buses have been grown.
func (e *Engine) Layout(id NodeID) (klavier.Layout, bool) {
	if ent, ok := e.nodes[id]; ok {
		return ent.layout.Copy(), true
	}
	return klavier.Layout{}, false
}

// ChannelOffset returns the index of the first channel of the named bus.
func (e *Engine) ChannelOffset(id NodeID, isInput bool, bus string) (int, bool) {
	ent, ok := e.nodes[id]
	if !ok {
		return 0, false
	}
	return ent.layout.Offset(isInput, ent.layout.FindBus(isInput, bus))
}

// BusChannels returns the number of channels of the named bus, zero if the
// bus is disabled or missing.
func (e *Engine) BusChannels(id NodeID, isInput bool, bus string) int {
	ent, ok := e.nodes[id]
	if !ok {
		return 0
	}
	buses := ent.layout.Outputs
	if isInput {
		buses = ent.layout.Inputs
	}
	if i := ent.layout.FindBus(isInput, bus); i >= 0 && buses[i].Enabled {
		return buses[i].Channels
	}
	return 0
}

// GrowBus makes sure the named bus is enabled and has at least channels
// channels. Buses never shrink, so existing connections stay valid.
func (e *Engine) GrowBus(id NodeID, isInput bool, bus string, channels int) bool {
	ent, ok := e.nodes[id]
	if !ok || channels <= 0 {
		return false
	}
	if e.BusChannels(id, isInput, bus) >= channels {
		return true
	}
	layout, ok := ent.layout.Resize(isInput, ent.layout.FindBus(isInput, bus), channels)
	if !ok {
		return false
	}
	ent.layout = layout
	e.rebuild()
	return true
}

// SetInput selects the node that receives the host MIDI events. Zero
// disconnects the host MIDI.
func (e *Engine) SetInput(id NodeID) bool {
	if _, ok := e.nodes[id]; !ok && id != 0 {
		return false
	}
	e.input = id
	e.rebuild()
	return true
}

// SetOutput selects the node whose outputs are summed into the host output.
func (e *Engine) SetOutput(id NodeID) bool {
	if _, ok := e.nodes[id]; !ok && id != 0 {
		return false
	}
	e.output = id
	e.rebuild()
	return true
}

// AddConnection adds c to the graph. Self connections, connections to
// unknown nodes or channels, duplicates and connections that would create
// a cycle are rejected.
func (e *Engine) AddConnection(c Connection) bool {
	if !e.validConnection(c) {
		return false
	}
	e.conns[c] = struct{}{}
	e.rebuild()
	return true
}

func (e *Engine) validConnection(c Connection) bool {
	src, ok1 := e.nodes[c.Source.Node]
	dst, ok2 := e.nodes[c.Destination.Node]
	if !ok1 || !ok2 || c.Source.Node == c.Destination.Node {
		return false
	}
	if _, dup := e.conns[c]; dup {
		return false
	}
	switch {
	case c.IsMIDI():
	case c.Source.Channel == MIDIChannel || c.Destination.Channel == MIDIChannel:
		return false
	case c.Source.Channel < 0 || c.Source.Channel >= src.layout.NumOutputChannels():
		return false
	case c.Destination.Channel < 0 || c.Destination.Channel >= dst.layout.NumInputChannels():
		return false
	}
	return !e.reaches(c.Destination.Node, c.Source.Node)
}

// reaches reports whether there is a path of connections from a to b.
func (e *Engine) reaches(a, b NodeID) bool {
	visited := map[NodeID]bool{}
	stack := []NodeID{a}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == b {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for c := range e.conns {
			if c.Source.Node == n {
				stack = append(stack, c.Destination.Node)
			}
		}
	}
	return false
}

func (e *Engine) RemoveConnection(c Connection) bool {
	if _, ok := e.conns[c]; !ok {
		return false
	}
	delete(e.conns, c)
	e.rebuild()
	return true
}

func (e *Engine) IsConnected(c Connection) bool {
	_, ok := e.conns[c]
	return ok
}

// Connections returns all connections, sorted.
func (e *Engine) Connections() []Connection {
	ret := make([]Connection, 0, len(e.conns))
	for c := range e.conns {
		ret = append(ret, c)
	}
	slices.SortFunc(ret, compareConnections)
	return ret
}

func compareConnections(a, b Connection) int {
	return cmp.Or(
		cmp.Compare(a.Source.Node, b.Source.Node),
		cmp.Compare(a.Source.Channel, b.Source.Channel),
		cmp.Compare(a.Destination.Node, b.Destination.Node),
		cmp.Compare(a.Destination.Channel, b.Destination.Channel),
	)
}

// Prepare changes the sample rate and block size and prepares every node
// again. It must not run concurrently with Process.
func (e *Engine) Prepare(sampleRate float64, blockSize int) {
	if sampleRate > 0 {
		e.sampleRate = sampleRate
	}
	if blockSize > 0 {
		e.blockSize = blockSize
	}
	for _, id := range e.NodeIDs() {
		e.nodes[id].node.Prepare(e.sampleRate, e.blockSize)
	}
	e.rebuild()
}

// Process renders one host block into out, which is overwritten. Called on
// the audio goroutine; it first runs every queued action, then renders the
// graph in chunks of at most the block size.
func (e *Engine) Process(out klavier.AudioBuffer, midi *klavier.MIDIBuffer) {
	e.queue.Drain()
	p := e.plan
	out.Clear()
	frames := out.Frames()
	for offset := 0; offset < frames; offset += p.blockSize {
		n := min(p.blockSize, frames-offset)
		p.render(offset, n, midi)
		p.mix(out, offset, n)
	}
}

// rebuild builds a plan from the current topology and enqueues the swap. A
// plan replaced before the audio goroutine installed it never reaches the
// audio goroutine, so at most one swap is queued at a time.
func (e *Engine) rebuild() {
	order := e.topologicalOrder()
	p := &plan{nodes: make([]planNode, len(order)), input: -1, output: -1, blockSize: e.blockSize}
	index := make(map[NodeID]int, len(order))
	for i, id := range order {
		ent := e.nodes[id]
		channels := ent.layout.NumChannels()
		if ent.buf.NumChannels() != channels || ent.buf.Frames() != e.blockSize || ent.midi == nil {
			ent.buf = klavier.MakeAudioBuffer(channels, e.blockSize)
			ent.midi = klavier.NewMIDIBuffer()
		}
		p.nodes[i] = planNode{
			id:         id,
			node:       ent.node,
			buf:        ent.buf,
			view:       make(klavier.AudioBuffer, channels),
			midi:       ent.midi,
			numOutputs: ent.layout.NumOutputChannels(),
		}
		index[id] = i
		if id == e.input {
			p.input = i
		}
		if id == e.output {
			p.output = i
		}
	}
	for _, c := range e.Connections() {
		src, dst := index[c.Source.Node], index[c.Destination.Node]
		pn := &p.nodes[dst]
		if c.IsMIDI() {
			pn.midiInputs = append(pn.midiInputs, src)
			continue
		}
		pn.inputs = append(pn.inputs, planInput{src: src, srcCh: c.Source.Channel, dstCh: c.Destination.Channel})
	}
	if e.next.Swap(p) == nil {
		e.Enqueue(e.install)
	}
}

func (e *Engine) install() {
	if p := e.next.Swap(nil); p != nil {
		e.plan = p
	}
}

// topologicalOrder returns the node ids so that every source comes before
// its destinations. Ties are broken by ascending id.
func (e *Engine) topologicalOrder() []NodeID {
	indegree := make(map[NodeID]int, len(e.nodes))
	succ := make(map[NodeID][]NodeID, len(e.nodes))
	for c := range e.conns {
		indegree[c.Destination.Node]++
		succ[c.Source.Node] = append(succ[c.Source.Node], c.Destination.Node)
	}
	var ready []NodeID
	for _, id := range e.NodeIDs() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	ret := make([]NodeID, 0, len(e.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ret = append(ret, id)
		for _, d := range succ[id] {
			indegree[d]--
			if indegree[d] == 0 {
				i, _ := slices.BinarySearch(ready, d)
				ready = slices.Insert(ready, i, d)
			}
		}
	}
	return ret
}

// TrySend sends v to c if it is not full. It never blocks and reports
// whether the value was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}
