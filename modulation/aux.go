package modulation

// AuxChain records which connection amounts are driven by other connections.
// A link from -> to means the output of slot from modulates the amount of
// slot to. Every link halves the amount range of everything downstream of
// it, so the effective scale of a slot is its raw value times 0.5 per link
// between it and the root of its chain.
type AuxChain struct {
	bank    *Bank
	forward map[int]int // from -> to
	inverse map[int]int // to -> from
}

func NewAuxChain(bank *Bank) *AuxChain {
	return &AuxChain{bank: bank, forward: map[int]int{}, inverse: map[int]int{}}
}

// Add links slot from to slot to. It fails for self links, out of range
// slots, a from that already drives a slot, a to that is already driven and
// links that would close a cycle.
func (a *AuxChain) Add(from, to int) bool {
	if from == to || a.bank.At(from) == nil || a.bank.At(to) == nil {
		return false
	}
	if _, ok := a.forward[from]; ok {
		return false
	}
	if _, ok := a.inverse[to]; ok {
		return false
	}
	for i, ok := to, true; ok; i, ok = a.forward[i] {
		if i == from {
			return false
		}
	}
	a.forward[from] = to
	a.inverse[to] = from
	a.refresh(to)
	return true
}

// Multiplier returns the attenuation of slot i: 0.5 for every link between
// i and the root of its chain.
func (a *AuxChain) Multiplier(i int) float32 {
	m := float32(1)
	for j, ok := a.inverse[i]; ok; j, ok = a.inverse[j] {
		m *= 0.5
	}
	return m
}

// Depth returns the number of links between i and the root of its chain.
func (a *AuxChain) Depth(i int) int {
	d := 0
	for j, ok := a.inverse[i]; ok; j, ok = a.inverse[j] {
		d++
	}
	return d
}

// SetRaw sets the user facing amount of slot i and stores the attenuated
// value as its scale.
func (a *AuxChain) SetRaw(i int, v float32) {
	c := a.bank.At(i)
	if c == nil {
		return
	}
	c.raw = v
	c.setScale(v * a.Multiplier(i))
}

// Source returns the slot driving slot to.
func (a *AuxChain) Source(to int) (int, bool) {
	from, ok := a.inverse[to]
	return from, ok
}

// Destination returns the slot driven by slot from.
func (a *AuxChain) Destination(from int) (int, bool) {
	to, ok := a.forward[from]
	return to, ok
}

// RemoveSource removes the link starting at from. The slot it drove, and
// everything after it, get their scale recomputed for the shorter chain.
func (a *AuxChain) RemoveSource(from int) bool {
	to, ok := a.forward[from]
	if !ok {
		return false
	}
	delete(a.forward, from)
	delete(a.inverse, to)
	a.refresh(to)
	return true
}

// RemoveDestination removes the link ending at to.
func (a *AuxChain) RemoveDestination(to int) bool {
	from, ok := a.inverse[to]
	if !ok {
		return false
	}
	return a.RemoveSource(from)
}

// Remove drops every link touching slot i.
func (a *AuxChain) Remove(i int) {
	a.RemoveSource(i)
	a.RemoveDestination(i)
}

// refresh recomputes the scale of slot i and every slot downstream of it.
func (a *AuxChain) refresh(i int) {
	for j, ok := i, true; ok; j, ok = a.forward[j] {
		if c := a.bank.At(j); c != nil {
			c.setScale(c.raw * a.Multiplier(j))
		}
	}
}
