package engine

import (
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/klavier"
)

type (
	// plan is an immutable description of how to render one block: the nodes
	// in topological order, each with preallocated buffers and the list of
	// channels to sum into its inputs. Plans are built on the UI goroutine and
	// swapped in on the audio goroutine, so the audio side never allocates
	// and never sees a half updated topology.
	plan struct {
		nodes     []planNode
		input     int // index of the node receiving host MIDI, or -1
		output    int // index of the node summed to the host output, or -1
		blockSize int
	}

	planNode struct {
		id         NodeID
		node       klavier.Node
		buf        klavier.AudioBuffer
		view       klavier.AudioBuffer
		midi       *klavier.MIDIBuffer
		inputs     []planInput
		midiInputs []int
		numOutputs int
	}

	planInput struct {
		src, srcCh, dstCh int
	}
)

func emptyPlan(blockSize int) *plan {
	return &plan{input: -1, output: -1, blockSize: blockSize}
}

// render processes frames frames of every node, starting at frame offset of
// the host block.
func (p *plan) render(offset, frames int, hostMIDI *klavier.MIDIBuffer) {
	for i := range p.nodes {
		pn := &p.nodes[i]
		audio := pn.buf.View(pn.view, frames)
		audio.Clear()
		pn.midi.Clear()
		for _, in := range pn.inputs {
			src := p.nodes[in.src].buf[in.srcCh][:frames]
			vek32.Add_Inplace(audio[in.dstCh], src)
		}
		for _, src := range pn.midiInputs {
			pn.midi.AddFrom(p.nodes[src].midi, 0, frames)
		}
		if i == p.input {
			pn.midi.AddFrom(hostMIDI, offset, offset+frames)
		}
		pn.node.ProcessBlock(audio, pn.midi)
	}
}

// mix adds the output channels of the output node into out, starting at
// frame offset.
func (p *plan) mix(out klavier.AudioBuffer, offset, frames int) {
	if p.output < 0 {
		return
	}
	pn := &p.nodes[p.output]
	for ch := 0; ch < len(out) && ch < pn.numOutputs; ch++ {
		vek32.Add_Inplace(out[ch][offset:offset+frames], pn.buf[ch][:frames])
	}
}
