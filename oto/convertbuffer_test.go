package oto

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestPutFrames(t *testing.T) {
	dst := make([]byte, 16)
	if n := putFrames(dst, [][2]float32{{0.5, -1}, {1, 0}}); n != 16 {
		t.Fatalf("wrote %d bytes, want 16", n)
	}
	want := []float32{0.5, -1, 1, 0}
	for i, w := range want {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(dst[4*i:])); got != w {
			t.Errorf("sample %d = %v, want %v", i, got, w)
		}
	}
}
