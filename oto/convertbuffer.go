package oto

import (
	"encoding/binary"
	"math"
)

const bytesPerFrame = 8

// putFrames writes stereo frames into dst as little-endian float32 samples
// and returns the number of bytes written.
func putFrames(dst []byte, frames [][2]float32) int {
	for i, f := range frames {
		binary.LittleEndian.PutUint32(dst[i*bytesPerFrame:], math.Float32bits(f[0]))
		binary.LittleEndian.PutUint32(dst[i*bytesPerFrame+4:], math.Float32bits(f[1]))
	}
	return len(frames) * bytesPerFrame
}
