package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// Supported capture drivers
const (
	DriverFFmpeg    = "ffmpeg"
	DriverARecord   = "arecord"
	DriverPortAudio = "portaudio"
)

// ErrPortAudioUnavailable is returned when the binary was built without
// PortAudio support
var ErrPortAudioUnavailable = errors.New("portaudio capture not compiled in")

// PortAudioConfig configures the in-process PortAudio input
type PortAudioConfig struct {
	Format          string // must be "wav"; PortAudio delivers raw PCM only
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

func (c PortAudioConfig) normalize() (PortAudioConfig, error) {
	if c.Format != "wav" {
		return c, fmt.Errorf("portaudio only captures wav, got %s", c.Format)
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = 1024
	}
	return c, nil
}

// NewDevice returns the capture device for config.Driver. FragmentSize is
// converted to PortAudio frames per buffer for the portaudio driver.
func NewDevice(config CommandConfig, logger *slog.Logger) (Device, error) {
	if config.Driver != DriverPortAudio {
		dev, err := NewCommandDevice(config, logger)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}

	channels := config.Channels
	if channels <= 0 {
		channels = 1
	}

	return newPortAudioDevice(PortAudioConfig{
		Format:          config.Format,
		SampleRate:      config.SampleRate,
		Channels:        channels,
		FramesPerBuffer: config.FragmentSize / (2 * channels),
	}, logger)
}

// samplesToPCM encodes interleaved samples as little-endian PCM-16, the
// layout WrapPCM expects
func samplesToPCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
