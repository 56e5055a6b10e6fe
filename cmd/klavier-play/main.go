package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/oto"
	"github.com/vsariola/klavier/patch"
	"github.com/vsariola/klavier/version"
	"gitlab.com/gomidi/midi/v2"
)

type midiInput interface {
	Fill(buf *klavier.MIDIBuffer, frames int)
	Close()
}

const updateInterval = 100 * time.Millisecond

func main() {
	help := flag.Bool("h", false, "Show help.")
	directory := flag.String("o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the working directory.")
	play := flag.Bool("p", false, "Play the input patches (default behaviour when no other output is defined).")
	wavOut := flag.Bool("w", false, "Render the patch to a .wav file. By default, saves stereo float32 samples.")
	rawOut := flag.Bool("r", false, "Render the patch to a .raw file. By default, saves stereo float32 samples.")
	dotOut := flag.Bool("g", false, "Write the patch graph as a Graphviz .dot file.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	seconds := flag.Float64("t", 4, "Length of the rendering or playback in seconds. Zero plays until interrupted.")
	note := flag.Int("n", 60, "MIDI key sent to the patch at the start. Negative sends nothing.")
	device := flag.String("m", "", "Open the first live MIDI input whose name starts with this prefix when playing. Empty opens the first input.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*wavOut && !*rawOut && !*dotOut {
		*play = true
	}
	cfg := patch.MakeConfig()
	if cfg.YmlError != nil {
		log.Printf("ignoring malformed config.yml: %v", cfg.YmlError)
		cfg = patch.DefaultConfig()
	}
	process := func(filename string) error {
		m := patch.New(cfg, nil)
		f, err := os.Open(filename)
		if err != nil {
			return fmt.Errorf("could not open %v: %w", filename, err)
		}
		err = m.Load(f)
		f.Close()
		if err != nil {
			return err
		}
		logAlerts(m, 0)
		output := func(extension string, write func(w io.Writer) error) error {
			dir := *directory
			if dir == "" {
				if dir, err = os.Getwd(); err != nil {
					return fmt.Errorf("could not get working directory, specify the output directory explicitly: %w", err)
				}
			}
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return fmt.Errorf("could not create output directory %v: %w", dir, err)
			}
			_, name := filepath.Split(filename)
			path := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+extension)
			out, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("could not create %v: %w", path, err)
			}
			if err := write(out); err != nil {
				out.Close()
				return fmt.Errorf("could not write %v: %w", path, err)
			}
			return out.Close()
		}
		if *dotOut {
			if err := output(".dot", func(w io.Writer) error { return m.WriteDOT(w, filename) }); err != nil {
				return err
			}
		}
		if *wavOut || *rawOut {
			buffer := render(m, *seconds, *note)
			format := klavier.Float32
			if *pcm {
				format = klavier.PCM16
			}
			if *wavOut {
				if err := output(".wav", func(w io.Writer) error { return klavier.WriteWav(w, buffer, int(cfg.SampleRate), format) }); err != nil {
					return err
				}
			}
			if *rawOut {
				if err := output(".raw", func(w io.Writer) error { return klavier.WriteRaw(w, buffer, format) }); err != nil {
					return err
				}
			}
		}
		if *play {
			return playPatch(m, cfg, *seconds, *note, *device)
		}
		return nil
	}
	retval := 0
	for _, param := range flag.Args() {
		if err := process(param); err != nil {
			log.Printf("could not process %v: %v", param, err)
			retval = 1
		}
	}
	os.Exit(retval)
}

// render renders the patch offline on the calling goroutine, which then acts
// as the audio goroutine.
func render(m *patch.Model, seconds float64, note int) klavier.AudioBuffer {
	settle(m)
	sr := m.Engine().SampleRate()
	buffer := klavier.MakeAudioBuffer(2, int(seconds*sr))
	events := klavier.NewMIDIBuffer()
	if note >= 0 {
		events.Add(0, midi.NoteOn(0, uint8(note), 100))
	}
	m.Engine().Process(buffer, events)
	return buffer
}

func playPatch(m *patch.Model, cfg patch.Config, seconds float64, note int, device string) error {
	ctx, err := oto.NewContext(int(cfg.SampleRate), m.Engine().BlockSize())
	if err != nil {
		return err
	}
	defer ctx.Close()
	settle(m)
	in := newMIDIInput(int(cfg.SampleRate), device)
	defer in.Close()
	limit := int(seconds * cfg.SampleRate)
	events := klavier.NewMIDIBuffer()
	rendered := 0
	stream := ctx.Play(func(buf klavier.AudioBuffer) error {
		if limit > 0 && rendered >= limit {
			return io.EOF
		}
		in.Fill(events, buf.Frames())
		if rendered == 0 && note >= 0 {
			events.Add(0, midi.NoteOn(0, uint8(note), 100))
		}
		m.Engine().Process(buf, events)
		rendered += buf.Frames()
		return nil
	})
	done := make(chan error, 1)
	go func() { done <- stream.Wait() }()
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()
	seen := 0
	for {
		select {
		case err := <-done:
			return err
		case <-interrupt:
			stream.Close()
			return <-done
		case <-ticker.C:
			m.Update(updateInterval)
			seen = logAlerts(m, seen)
		}
	}
}

// settle applies every pending engine action. It must only be called while
// no audio goroutine runs Process.
func settle(m *patch.Model) {
	for m.Engine().Flush() > 0 {
		m.Engine().Process(nil, nil)
	}
}

// logAlerts logs the alerts after the first seen ones and returns the
// number of alerts.
func logAlerts(m *patch.Model, seen int) int {
	n := 0
	m.Alerts().Iterate(func(_ int, a klavier.Alert) bool {
		if n >= seen {
			log.Printf("%v: %v", a.Priority, a.Message)
		}
		n++
		return true
	})
	return n
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Klavier command line utility for playing and rendering .yml patches.\nUsage: %s [flags] [patch1.yml] [patch2.yml] ...\n", os.Args[0])
	flag.PrintDefaults()
}
