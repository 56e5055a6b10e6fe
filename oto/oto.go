// Package oto plays the output of an engine through the default audio
// device.
package oto

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/klavier"
)

type (
	Context struct {
		ctx       *oto.Context
		blockSize int
	}

	// stream pulls blocks from the render callback on the player's
	// goroutine and hands them to oto as interleaved float32 samples.
	stream struct {
		render  func(klavier.AudioBuffer) error
		buf     klavier.AudioBuffer
		frames  [][2]float32
		pos     int
		player  *oto.Player
		err     error
		ended   chan struct{}
		endOnce sync.Once
	}
)

const otoBufferSize = 50 * time.Millisecond

// NewContext opens the audio device in stereo float32 at sampleRate. Blocks
// are rendered blockSize frames at a time.
func NewContext(sampleRate, blockSize int) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   otoBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, blockSize: blockSize}, nil
}

// Play starts pulling audio from render. render returning io.EOF ends the
// stream normally; any other error ends it and is returned by Wait.
func (c *Context) Play(render func(klavier.AudioBuffer) error) klavier.CloserWaiter {
	s := &stream{
		render: render,
		buf:    klavier.MakeAudioBuffer(2, c.blockSize),
		frames: make([][2]float32, c.blockSize),
		pos:    c.blockSize,
		ended:  make(chan struct{}),
	}
	s.player = c.ctx.NewPlayer(s)
	s.player.Play()
	return s
}

func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (s *stream) Read(p []byte) (int, error) {
	n := 0
	for n+bytesPerFrame <= len(p) {
		if s.pos == len(s.frames) {
			if err := s.render(s.buf); err != nil {
				if !errors.Is(err, io.EOF) {
					s.err = err
				}
				s.end()
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			}
			s.buf.Interleave(s.frames)
			s.pos = 0
		}
		k := min(len(s.frames)-s.pos, (len(p)-n)/bytesPerFrame)
		n += putFrames(p[n:], s.frames[s.pos:s.pos+k])
		s.pos += k
	}
	return n, nil
}

func (s *stream) end() { s.endOnce.Do(func() { close(s.ended) }) }

// Wait blocks until the render callback ended the stream and the buffered
// audio has been played, or until Close.
func (s *stream) Wait() error {
	<-s.ended
	for s.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.player.Err(); err != nil && s.err == nil {
		return err
	}
	return s.err
}

func (s *stream) Close() error {
	s.end()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
