package klavier

type (
	// Node is a processing unit in the audio graph. Prepare and Layout are
	// called on the UI goroutine before the node becomes visible to the audio
	// goroutine; ProcessBlock is only ever called on the audio goroutine.
	//
	// ProcessBlock processes audio in place: on entry, audio holds the input
	// channels of the node, on return it should hold the output channels. The
	// buffer has as many channels as the larger of the two channel counts.
	Node interface {
		Layout() Layout
		Prepare(sampleRate float64, blockSize int)
		ProcessBlock(audio AudioBuffer, midi *MIDIBuffer)
	}

	// Modulatable is implemented by nodes that have parameters that can be
	// the destination of a modulation connection. The modulation of parameter
	// i arrives on channel i of the node's Modulation input bus.
	Modulatable interface {
		ParamIndex(name string) (index int, ok bool)
		ParamNames() []string
	}

	// State is a discrete snapshot of parameter values, keyed by parameter
	// name. It is pushed into a StateReceiver when a state connection fires.
	State map[string]float32

	// StateReceiver is implemented by nodes that accept discrete state
	// changes. ReceiveState is called on the audio goroutine and must not
	// block or retain the map.
	StateReceiver interface {
		ReceiveState(change State)
	}
)

// Copy makes a copy of the state.
func (s State) Copy() State {
	ret := make(State, len(s))
	for k, v := range s {
		ret[k] = v
	}
	return ret
}
