package klavier

import (
	"github.com/viterin/vek/vek32"
)

type (
	// AudioBuffer is a block of non-interleaved audio: one slice of samples
	// per channel. All channels of a buffer have the same length.
	AudioBuffer [][]float32

	// AudioContext plays audio pulled from a callback, typically on a
	// separate goroutine owned by the audio backend. The callback is the
	// audio goroutine of the host: it must never block.
	AudioContext interface {
		Play(render func(buf AudioBuffer) error) CloserWaiter
		Close() error
	}

	// CloserWaiter is a handle to a playing stream. Close stops it; Wait
	// blocks until the stream has stopped and returns the error that stopped
	// it, if any.
	CloserWaiter interface {
		Close() error
		Wait() error
	}
)

// MakeAudioBuffer allocates a buffer with the given number of channels and
// frames. All channels share one backing array.
func MakeAudioBuffer(channels, frames int) AudioBuffer {
	if channels <= 0 {
		return AudioBuffer{}
	}
	backing := make([]float32, channels*frames)
	ret := make(AudioBuffer, channels)
	for i := range ret {
		ret[i] = backing[i*frames : (i+1)*frames : (i+1)*frames]
	}
	return ret
}

// NumChannels returns the number of channels in the buffer.
func (b AudioBuffer) NumChannels() int { return len(b) }

// Frames returns the number of frames in the buffer, i.e. the length of each
// channel.
func (b AudioBuffer) Frames() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Clear zeroes every channel.
func (b AudioBuffer) Clear() {
	for _, ch := range b {
		clear(ch)
	}
}

// AddChannel adds channel srcCh of src to channel dstCh of b. Out of range
// channels are ignored. Only the common length of the two channels is mixed.
func (b AudioBuffer) AddChannel(dstCh int, src AudioBuffer, srcCh int) {
	if dstCh < 0 || dstCh >= len(b) || srcCh < 0 || srcCh >= len(src) {
		return
	}
	dst, s := b[dstCh], src[srcCh]
	n := min(len(dst), len(s))
	vek32.Add_Inplace(dst[:n], s[:n])
}

// View sets the channels of view to the first frames of b and returns it.
// view must have at least as many channels as b; it is reused so that taking
// a view does not allocate.
func (b AudioBuffer) View(view AudioBuffer, frames int) AudioBuffer {
	view = view[:len(b)]
	for i, ch := range b {
		view[i] = ch[:min(frames, len(ch))]
	}
	return view
}

// Interleave writes the first two channels of b into dst as interleaved
// stereo frames. A mono buffer is duplicated to both sides.
func (b AudioBuffer) Interleave(dst [][2]float32) {
	switch len(b) {
	case 0:
		clear(dst)
	case 1:
		for i := range dst {
			dst[i] = [2]float32{b[0][i], b[0][i]}
		}
	default:
		for i := range dst {
			dst[i] = [2]float32{b[0][i], b[1][i]}
		}
	}
}
