package klavier

// ModulationBus is the name of the bus reserved for modulation routing. A node
// that can be modulated declares an input bus with this name; a node that
// produces modulation declares an output bus with this name.
const ModulationBus = "Modulation"

type (
	// Bus is a named group of channels on a node. A disabled bus contributes
	// no channels to the node's channel layout.
	Bus struct {
		Name     string
		Channels int
		Enabled  bool
	}

	// Layout lists the input and output buses of a node. Channels of the
	// enabled buses are numbered contiguously in bus order, inputs and
	// outputs separately.
	Layout struct {
		Inputs  []Bus
		Outputs []Bus
	}
)

// Copy makes a deep copy of the layout.
func (l Layout) Copy() Layout {
	return Layout{
		Inputs:  append([]Bus(nil), l.Inputs...),
		Outputs: append([]Bus(nil), l.Outputs...),
	}
}

func (l Layout) buses(isInput bool) []Bus {
	if isInput {
		return l.Inputs
	}
	return l.Outputs
}

// NumInputChannels returns the total number of channels in the enabled input
// buses.
func (l Layout) NumInputChannels() int { return numChannels(l.Inputs) }

// NumOutputChannels returns the total number of channels in the enabled
// output buses.
func (l Layout) NumOutputChannels() int { return numChannels(l.Outputs) }

// NumChannels returns the number of channels needed to process the node in
// place, i.e. the larger of the input and output channel counts.
func (l Layout) NumChannels() int { return max(l.NumInputChannels(), l.NumOutputChannels()) }

// FindBus returns the index of the bus with the given name, or -1.
func (l Layout) FindBus(isInput bool, name string) int {
	for i, b := range l.buses(isInput) {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// Offset returns the index of the first channel of the given bus. ok is false
// if the bus does not exist. The offset of a disabled bus is where its first
// channel would be if it was enabled.
func (l Layout) Offset(isInput bool, bus int) (offset int, ok bool) {
	buses := l.buses(isInput)
	if bus < 0 || bus >= len(buses) {
		return 0, false
	}
	return numChannels(buses[:bus]), true
}

// Resize returns a copy of the layout where the given bus has the given number
// of channels and is enabled. A non-positive channel count disables the bus.
func (l Layout) Resize(isInput bool, bus, channels int) (Layout, bool) {
	ret := l.Copy()
	buses := ret.buses(isInput)
	if bus < 0 || bus >= len(buses) {
		return l, false
	}
	if channels <= 0 {
		buses[bus].Enabled = false
		return ret, true
	}
	buses[bus].Channels = channels
	buses[bus].Enabled = true
	return ret, true
}

func numChannels(buses []Bus) int {
	ret := 0
	for _, b := range buses {
		if b.Enabled {
			ret += b.Channels
		}
	}
	return ret
}
