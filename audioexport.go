package klavier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// SampleFormat selects how samples are encoded by WriteWav and WriteRaw.
type SampleFormat int

const (
	Float32 SampleFormat = iota // 32-bit IEEE float
	PCM16                       // 16-bit signed integer
)

var ErrSampleRate = errors.New("invalid sample rate")

func (f SampleFormat) bytesPerSample() int {
	if f == PCM16 {
		return 2
	}
	return 4
}

// wavHeader is the RIFF header up to and including the fmt chunk. Float data
// additionally needs the cbSize extension and a fact chunk.
type wavHeader struct {
	Riff          [4]byte
	ChunkSize     uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

type factChunk struct {
	ExtSize uint16
	Fact    [4]byte
	Size    uint32
	Frames  uint32
}

// WriteWav writes the buffer to w as a .wav file, channels interleaved in
// buffer order.
func WriteWav(w io.Writer, buffer AudioBuffer, sampleRate int, format SampleFormat) error {
	if sampleRate <= 0 {
		return fmt.Errorf("WriteWav: %w %d", ErrSampleRate, sampleRate)
	}
	channels, frames := buffer.NumChannels(), buffer.Frames()
	bps := format.bytesPerSample()
	dataSize := uint32(bps * channels * frames)
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bps),
		BlockAlign:    uint16(channels * bps),
		BitsPerSample: uint16(8 * bps),
	}
	var fact *factChunk
	if format == PCM16 {
		h.Format, h.FmtSize, h.ChunkSize = 1, 16, 36+dataSize
	} else {
		h.Format, h.FmtSize, h.ChunkSize = 3, 18, 50+dataSize
		fact = &factChunk{Fact: [4]byte{'f', 'a', 'c', 't'}, Size: 4, Frames: uint32(frames)}
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("WriteWav: %w", err)
	}
	if fact != nil {
		if err := binary.Write(w, binary.LittleEndian, fact); err != nil {
			return fmt.Errorf("WriteWav: %w", err)
		}
	}
	data := struct {
		Data [4]byte
		Size uint32
	}{[4]byte{'d', 'a', 't', 'a'}, dataSize}
	if err := binary.Write(w, binary.LittleEndian, &data); err != nil {
		return fmt.Errorf("WriteWav: %w", err)
	}
	return WriteRaw(w, buffer, format)
}

// WriteRaw writes the buffer to w as headerless interleaved samples.
func WriteRaw(w io.Writer, buffer AudioBuffer, format SampleFormat) error {
	channels, frames := buffer.NumChannels(), buffer.Frames()
	var data any
	switch format {
	case PCM16:
		s := make([]int16, 0, channels*frames)
		for f := range frames {
			for _, ch := range buffer {
				v := math.Round(float64(ch[f]) * math.MaxInt16)
				s = append(s, int16(max(min(v, math.MaxInt16), math.MinInt16)))
			}
		}
		data = s
	default:
		s := make([]float32, 0, channels*frames)
		for f := range frames {
			for _, ch := range buffer {
				s = append(s, ch[f])
			}
		}
		data = s
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("WriteRaw: %w", err)
	}
	return nil
}
