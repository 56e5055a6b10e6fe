package modulation

import (
	"container/heap"

	"github.com/vsariola/klavier"
)

const (
	DefaultSlots      = 100
	DefaultStateSlots = 100
)

type (
	// Bank is a fixed capacity pool of continuous connections. Slots are
	// handed out lowest index first and reused after release.
	Bank struct {
		conns []*Connection
		free  freeList
		// OnRelease is called after a slot has been cleared, with the index
		// and the uuid the connection had. The owner of the backing document
		// node removes it here.
		OnRelease func(index int, uuid string)
	}

	// StateBank is the pool of state connections, with the same allocation
	// discipline as Bank.
	StateBank struct {
		conns     []*StateConnection
		free      freeList
		OnRelease func(index int, uuid string)
	}

	// freeList is a min-heap of free slot indices.
	freeList []int
)

func (f freeList) Len() int           { return len(f) }
func (f freeList) Less(i, j int) bool { return f[i] < f[j] }
func (f freeList) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *freeList) Push(x any)        { *f = append(*f, x.(int)) }
func (f *freeList) Pop() any {
	old := *f
	x := old[len(old)-1]
	*f = old[:len(old)-1]
	return x
}

func newFreeList(n int) freeList {
	ret := make(freeList, n)
	for i := range ret {
		ret[i] = i // ascending order is already a valid heap
	}
	return ret
}

// take removes and returns the lowest free index for which skip is false.
func (f *freeList) take(skip func(int) bool) (int, bool) {
	var skipped []int
	defer func() {
		for _, i := range skipped {
			heap.Push(f, i)
		}
	}()
	for f.Len() > 0 {
		i := heap.Pop(f).(int)
		if skip == nil || !skip(i) {
			return i, true
		}
		skipped = append(skipped, i)
	}
	return 0, false
}

// NewBank allocates a bank with capacity slots. A non-positive capacity gives
// DefaultSlots.
func NewBank(capacity int) *Bank {
	if capacity <= 0 {
		capacity = DefaultSlots
	}
	b := &Bank{conns: make([]*Connection, capacity), free: newFreeList(capacity)}
	for i := range b.conns {
		b.conns[i] = &Connection{index: i}
		b.conns[i].reset()
	}
	return b
}

func (b *Bank) Cap() int { return len(b.conns) }

// Len returns the number of connections in use.
func (b *Bank) Len() int { return len(b.conns) - b.free.Len() }

// Available reports whether Create can succeed.
func (b *Bank) Available() bool { return b.free.Len() > 0 }

// Create takes the lowest free slot and assigns source and destination to
// it. A slot whose own amount parameter is the destination is skipped, so a
// connection never modulates itself. Returns nil if either name is empty or
// the bank is full.
func (b *Bank) Create(source, destination string) *Connection {
	if source == "" || destination == "" {
		return nil
	}
	i, ok := b.free.take(func(i int) bool { return AmountParam(i) == destination })
	if !ok {
		return nil
	}
	c := b.conns[i]
	c.reset()
	c.source, c.destination = source, destination
	c.SetBipolar(DefaultBipolar(source))
	return c
}

// At returns slot i, free or not, or nil if i is out of range.
func (b *Bank) At(i int) *Connection {
	if i < 0 || i >= len(b.conns) {
		return nil
	}
	return b.conns[i]
}

// Find returns the live connection from source to destination, or nil.
func (b *Bank) Find(source, destination string) *Connection {
	for _, c := range b.conns {
		if !c.IsFree() && c.source == source && c.destination == destination {
			return c
		}
	}
	return nil
}

// FindUUID returns the live connection with the given uuid, or nil.
func (b *Bank) FindUUID(uuid string) *Connection {
	if uuid == "" {
		return nil
	}
	for _, c := range b.conns {
		if !c.IsFree() && c.uuid == uuid {
			return c
		}
	}
	return nil
}

// Active returns the live connections in slot order.
func (b *Bank) Active() []*Connection {
	ret := make([]*Connection, 0, b.Len())
	for _, c := range b.conns {
		if !c.IsFree() {
			ret = append(ret, c)
		}
	}
	return ret
}

// Release clears c and returns its slot to the pool. Releasing a free slot
// does nothing, so the release hook may release again.
func (b *Bank) Release(c *Connection) {
	if c == nil || c.IsFree() || b.At(c.index) != c {
		return
	}
	index, uuid := c.index, c.uuid
	c.reset()
	heap.Push(&b.free, index)
	if b.OnRelease != nil {
		b.OnRelease(index, uuid)
	}
}

// NewStateBank allocates a state bank with capacity slots. A non-positive
// capacity gives DefaultStateSlots.
func NewStateBank(capacity int) *StateBank {
	if capacity <= 0 {
		capacity = DefaultStateSlots
	}
	b := &StateBank{conns: make([]*StateConnection, capacity), free: newFreeList(capacity)}
	for i := range b.conns {
		b.conns[i] = &StateConnection{index: i}
	}
	return b
}

func (b *StateBank) Cap() int        { return len(b.conns) }
func (b *StateBank) Len() int        { return len(b.conns) - b.free.Len() }
func (b *StateBank) Available() bool { return b.free.Len() > 0 }

func (b *StateBank) Create(source, destination string) *StateConnection {
	if source == "" || destination == "" {
		return nil
	}
	i, ok := b.free.take(nil)
	if !ok {
		return nil
	}
	c := b.conns[i]
	c.reset()
	c.source, c.destination = source, destination
	return c
}

func (b *StateBank) At(i int) *StateConnection {
	if i < 0 || i >= len(b.conns) {
		return nil
	}
	return b.conns[i]
}

func (b *StateBank) Find(source, destination string) *StateConnection {
	for _, c := range b.conns {
		if !c.IsFree() && c.source == source && c.destination == destination {
			return c
		}
	}
	return nil
}

func (b *StateBank) FindUUID(uuid string) *StateConnection {
	if uuid == "" {
		return nil
	}
	for _, c := range b.conns {
		if !c.IsFree() && c.uuid == uuid {
			return c
		}
	}
	return nil
}

func (b *StateBank) Active() []*StateConnection {
	ret := make([]*StateConnection, 0, b.Len())
	for _, c := range b.conns {
		if !c.IsFree() {
			ret = append(ret, c)
		}
	}
	return ret
}

// SetPush sets the function that delivers the change of c to its
// destination. Set it before attaching the connection to a processor.
func (b *StateBank) SetPush(c *StateConnection, push func(klavier.State)) {
	if b.At(c.index) == c {
		c.push = push
	}
}

// Trigger fires every live connection from source on the calling goroutine.
// It reads the connection names, so it belongs to the UI goroutine and may
// only be used while the destinations are not being rendered, e.g. when
// rendering offline. While the engine runs, processors fire their state
// connections on the audio goroutine at each note-on.
func (b *StateBank) Trigger(source string) int {
	n := 0
	for _, c := range b.conns {
		if !c.IsFree() && c.source == source {
			c.Fire()
			n++
		}
	}
	return n
}

func (b *StateBank) Release(c *StateConnection) {
	if c == nil || c.IsFree() || b.At(c.index) != c {
		return
	}
	index, uuid := c.index, c.uuid
	c.reset()
	heap.Push(&b.free, index)
	if b.OnRelease != nil {
		b.OnRelease(index, uuid)
	}
}
